package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/qobserve"
)

func runArgs(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, append(args, "--log-level", "error"))
	return stdout.String(), stderr.String(), err
}

func TestRun(t *testing.T) {
	Convey("Given the qobserve command", t, func() {
		Convey("Help should print usage", func() {
			var stdout bytes.Buffer
			So(run(context.Background(), &stdout, &stdout, nil), ShouldBeNil)
			So(stdout.String(), ShouldContainSubstring, "Usage:")
			So(stdout.String(), ShouldContainSubstring, "--devices")
		})

		Convey("An unknown command should exit with code 2", func() {
			_, _, err := runArgs("teleport")
			So(err, ShouldHaveSameTypeAs, &ExitError{})
			So(err.(*ExitError).Code, ShouldEqual, 2)
		})

		Convey("An unknown format should exit with code 2", func() {
			_, _, err := runArgs("sample", "--format", "xml")
			So(err, ShouldHaveSameTypeAs, &ExitError{})
		})

		Convey("observe-n should report one result per row in order", func() {
			out, summary, err := runArgs("observe-n", "--rows", "9", "--devices", "2", "--qubits", "2", "--shots", "-1")
			So(err, ShouldBeNil)
			So(summary, ShouldContainSubstring, "observe-n: 9 evaluations on 2 devices")

			var report qobserve.Report
			So(json.Unmarshal([]byte(out), &report), ShouldBeNil)
			So(report.Devices, ShouldEqual, 2)
			So(report.Shots, ShouldEqual, qobserve.Analytic)
			So(report.Results, ShouldHaveLength, 9)

			want, _, err := runArgs("async", "--rows", "9", "--devices", "3", "--qubits", "2", "--shots", "-1")
			So(err, ShouldBeNil)

			var spread qobserve.Report
			So(json.Unmarshal([]byte(want), &spread), ShouldBeNil)
			for i := range report.Results {
				So(spread.Results[i].Expectation, ShouldAlmostEqual, report.Results[i].Expectation)
			}
		})

		Convey("distribute should aggregate a random observable", func() {
			out, _, err := runArgs("distribute", "--qubits", "4", "--terms", "20", "--shots", "-1", "--mode", "sequential")
			So(err, ShouldBeNil)

			var report qobserve.Report
			So(json.Unmarshal([]byte(out), &report), ShouldBeNil)
			So(report.Mode, ShouldEqual, "distributed/sequential")
			So(report.Results, ShouldHaveLength, 1)
			So(report.Results[0].Device, ShouldEqual, -1)
		})

		Convey("sample should write a CBOR report to a file", func() {
			path := filepath.Join(t.TempDir(), "report.cbor")
			_, summary, err := runArgs("sample", "--shots", "200", "--qubits", "3", "--format", "cbor", "--out", path)
			So(err, ShouldBeNil)
			So(summary, ShouldContainSubstring, "measured state = ")

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)

			codec, err := qobserve.CBOR()
			So(err, ShouldBeNil)

			var report qobserve.Report
			So(codec.Unmarshal(data, &report), ShouldBeNil)
			So(report.Kernel, ShouldEqual, "flip")
			So(report.Results[0].Counts, ShouldNotBeEmpty)

			total := 0
			for outcome, n := range report.Results[0].Counts {
				So(outcome[1:], ShouldEqual, "11")
				total += n
			}
			So(total, ShouldEqual, 200)
		})
	})
}

func TestDistributeModeFromEnvironment(t *testing.T) {
	Convey("Given an execution mode set in the environment", t, func() {
		t.Setenv("QOBSERVE_EXECUTION_MODE", "sequential")

		Convey("distribute should use it when --mode is absent", func() {
			out, _, err := runArgs("distribute", "--qubits", "3", "--terms", "6", "--shots", "-1")
			So(err, ShouldBeNil)

			var report qobserve.Report
			So(json.Unmarshal([]byte(out), &report), ShouldBeNil)
			So(report.Mode, ShouldEqual, "distributed/sequential")
		})

		Convey("--mode should still win over it", func() {
			out, _, err := runArgs("distribute", "--qubits", "3", "--terms", "6", "--shots", "-1", "--mode", "parallel")
			So(err, ShouldBeNil)

			var report qobserve.Report
			So(json.Unmarshal([]byte(out), &report), ShouldBeNil)
			So(report.Mode, ShouldEqual, "distributed/parallel")
		})
	})
}
