package qobserve

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCircuitBreakerInitialState(t *testing.T) {
	Convey("Given a newly created circuit breaker", t, func() {
		breaker := NewCircuitBreaker(2, 100*time.Millisecond, 1)

		Convey("It should start in closed state", func() {
			So(breaker.Allow(), ShouldBeTrue)
			So(breaker.State(), ShouldEqual, CircuitClosed)
			So(breaker.State().String(), ShouldEqual, "closed")
		})
	})
}

func TestCircuitBreakerFailureThreshold(t *testing.T) {
	Convey("Given a circuit breaker with failure threshold", t, func() {
		breaker := NewCircuitBreaker(2, 100*time.Millisecond, 1)

		Convey("It should open after max failures", func() {
			breaker.RecordFailure()
			breaker.RecordFailure()

			So(breaker.Allow(), ShouldBeFalse)
			So(breaker.State(), ShouldEqual, CircuitOpen)

			// Wait for reset timeout
			time.Sleep(150 * time.Millisecond)

			So(breaker.Allow(), ShouldBeTrue)
			So(breaker.State(), ShouldEqual, CircuitHalfOpen)
		})
	})
}

func TestCircuitBreakerHalfOpenSuccess(t *testing.T) {
	Convey("Given a circuit breaker in half-open state", t, func() {
		breaker := NewCircuitBreaker(2, 100*time.Millisecond, 1)
		breaker.RecordFailure()
		breaker.RecordFailure()
		time.Sleep(150 * time.Millisecond)
		So(breaker.Allow(), ShouldBeTrue)

		Convey("It should close after a successful probe", func() {
			breaker.RecordSuccess()

			So(breaker.State(), ShouldEqual, CircuitClosed)
			So(breaker.failureCount, ShouldEqual, 0)
		})

		Convey("It should open again after a failed probe", func() {
			breaker.RecordFailure()

			So(breaker.State(), ShouldEqual, CircuitOpen)
			So(breaker.Allow(), ShouldBeFalse)
		})
	})
}

func TestCircuitBreakerHalfOpenLimit(t *testing.T) {
	Convey("Given a half-open breaker needing two probes", t, func() {
		breaker := NewCircuitBreaker(1, 50*time.Millisecond, 2)
		breaker.RecordFailure()
		time.Sleep(80 * time.Millisecond)
		So(breaker.Allow(), ShouldBeTrue)

		Convey("It should stay half-open until both probes succeed", func() {
			breaker.RecordSuccess()
			So(breaker.State(), ShouldEqual, CircuitHalfOpen)
			So(breaker.Allow(), ShouldBeTrue)

			breaker.RecordSuccess()
			So(breaker.State(), ShouldEqual, CircuitClosed)
		})
	})
}

func TestCircuitBreakerSuccessReset(t *testing.T) {
	Convey("Given a circuit breaker in closed state", t, func() {
		breaker := NewCircuitBreaker(2, 100*time.Millisecond, 1)

		Convey("It should reset failure count on success", func() {
			breaker.RecordFailure()
			breaker.RecordSuccess()
			breaker.RecordFailure()

			// Still closed: the success cleared the first failure.
			So(breaker.Allow(), ShouldBeTrue)
			So(breaker.State(), ShouldEqual, CircuitClosed)
			So(breaker.failureCount, ShouldEqual, 1)
		})
	})
}
