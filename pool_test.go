package qobserve

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDevicePoolAdmission(t *testing.T) {
	Convey("Given a pool using the reject policy", t, func() {
		cfg := testConfig(1)
		cfg.Admission = AdmitReject

		release := make(chan struct{})
		started := make(chan struct{}, 1)
		backend := BackendFunc(func(ctx context.Context, req Request) (Measurement, error) {
			started <- struct{}{}
			<-release
			return Measurement{Expectations: make([]float64, len(req.Terms))}, nil
		})

		s := newTestSchedulerWith(t, cfg, backend)
		kernel := testKernel(t, 1)
		obs, err := NewObservable(Term{Name: "Z0", Coefficient: 1})
		So(err, ShouldBeNil)

		Convey("A busy device should refuse new work", func() {
			first, err := s.EvaluateAsync(context.Background(), kernel, obs, []float64{0}, 0)
			So(err, ShouldBeNil)
			<-started

			busy, err := s.Pool().Busy(0)
			So(err, ShouldBeNil)
			So(busy, ShouldBeTrue)

			_, err = s.EvaluateAsync(context.Background(), kernel, obs, []float64{0}, 0)
			var busyErr *DeviceBusyError
			So(errors.As(err, &busyErr), ShouldBeTrue)
			So(busyErr.Device, ShouldEqual, 0)
			So(busyErr.Open, ShouldBeFalse)

			close(release)
			_, err = first.Resolve()
			So(err, ShouldBeNil)
			So(s.Metrics()["units_rejected"], ShouldEqual, int64(1))
		})
	})

	Convey("Given a pool using the queue policy with a tiny queue", t, func() {
		cfg := testConfig(1)
		cfg.QueueDepth = 1
		cfg.SchedulingTimeout = 50 * time.Millisecond

		release := make(chan struct{})
		backend := BackendFunc(func(ctx context.Context, req Request) (Measurement, error) {
			<-release
			return Measurement{Expectations: make([]float64, len(req.Terms))}, nil
		})

		s := newTestSchedulerWith(t, cfg, backend)
		Reset(func() { close(release) })

		kernel := testKernel(t, 1)
		obs, err := NewObservable(Term{Name: "Z0", Coefficient: 1})
		So(err, ShouldBeNil)

		Convey("A full queue should time out with DeviceBusyError", func() {
			var futures []*Future
			var lastErr error
			for i := 0; i < 3 && lastErr == nil; i++ {
				future, err := s.EvaluateAsync(context.Background(), kernel, obs, []float64{0}, 0)
				if err != nil {
					lastErr = err
					break
				}
				futures = append(futures, future)
			}

			So(lastErr, ShouldHaveSameTypeAs, &DeviceBusyError{})
			So(len(futures), ShouldBeBetweenOrEqual, 1, 2)
		})
	})
}

func TestDevicePoolBreaker(t *testing.T) {
	Convey("Given a pool whose device hangs past the evaluation timeout", t, func() {
		cfg := testConfig(2)
		cfg.EvaluationTimeout = 20 * time.Millisecond
		cfg.Breaker = BreakerConfig{Threshold: 2, ResetTimeout: time.Hour, HalfOpenMax: 1}

		backend := BackendFunc(func(ctx context.Context, req Request) (Measurement, error) {
			if req.Device == 0 {
				<-ctx.Done()
				return Measurement{}, ctx.Err()
			}
			return Measurement{Expectations: make([]float64, len(req.Terms))}, nil
		})

		s := newTestSchedulerWith(t, cfg, backend)
		kernel := testKernel(t, 1)
		obs, err := NewObservable(Term{Name: "Z0", Coefficient: 1})
		So(err, ShouldBeNil)

		Convey("Timeouts should fail the unit and eventually open the breaker", func() {
			for i := 0; i < 2; i++ {
				future, err := s.EvaluateAsync(context.Background(), kernel, obs, []float64{0}, 0)
				So(err, ShouldBeNil)

				_, err = future.Resolve()
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			}

			state, err := s.Pool().Breaker(0)
			So(err, ShouldBeNil)
			So(state, ShouldEqual, CircuitOpen)

			_, err = s.EvaluateAsync(context.Background(), kernel, obs, []float64{0}, 0)
			var busy *DeviceBusyError
			So(errors.As(err, &busy), ShouldBeTrue)
			So(busy.Open, ShouldBeTrue)

			Convey("Other devices should be unaffected", func() {
				future, err := s.EvaluateAsync(context.Background(), kernel, obs, []float64{0}, 1)
				So(err, ShouldBeNil)
				_, err = future.Resolve()
				So(err, ShouldBeNil)

				state, err := s.Pool().Breaker(1)
				So(err, ShouldBeNil)
				So(state, ShouldEqual, CircuitClosed)
			})
		})
	})
}

func TestDevicePoolClose(t *testing.T) {
	Convey("Given a closed pool", t, func() {
		pool, err := NewDevicePool(context.Background(), testConfig(2), &fakeBackend{}, nil)
		So(err, ShouldBeNil)
		pool.Close()

		Convey("Submissions should fail with ErrPoolClosed", func() {
			kernel := testKernel(t, 1)
			unit := NewUnit(kernel, []Term{{Name: "Z0", Coefficient: 1}}, []float64{0})

			_, err := pool.SubmitAsync(context.Background(), 0, unit)
			So(err, ShouldEqual, ErrPoolClosed)
		})

		Convey("Closing twice should be harmless", func() {
			So(func() { pool.Close() }, ShouldNotPanic)
		})
	})
}

func TestDevicePoolMetrics(t *testing.T) {
	Convey("Given a pool that has run some units", t, func() {
		backend := &fakeBackend{fail: func(req Request) error {
			if req.Parameters[0] < 0 {
				return errors.New("negative")
			}
			return nil
		}}
		s := newTestScheduler(t, 2, backend)
		kernel := testKernel(t, 1)
		obs, err := NewObservable(Term{Name: "Z0", Coefficient: 1})
		So(err, ShouldBeNil)

		for _, p := range []float64{1, 2, -1} {
			future, err := s.EvaluateAsync(context.Background(), kernel, obs, []float64{p}, 1)
			So(err, ShouldBeNil)
			_, _ = future.Resolve()
		}

		Convey("The export should count successes and failures per device", func() {
			m := s.Metrics()
			So(m["device_count"], ShouldEqual, 2)
			So(m["units_submitted"], ShouldEqual, int64(3))
			So(m["units_completed"], ShouldEqual, int64(2))
			So(m["units_failed"], ShouldEqual, int64(1))
			So(m["device_completed"], ShouldResemble, []int64{0, 2})
			So(m["device_failed"], ShouldResemble, []int64{0, 1})
			So(m["success_rate"], ShouldAlmostEqual, 2.0/3.0)
		})
	})
}

func TestDevicePoolParentCancel(t *testing.T) {
	Convey("Given a pool whose parent context is cancelled", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		started := make(chan struct{}, 1)
		backend := BackendFunc(func(ctx context.Context, req Request) (Measurement, error) {
			started <- struct{}{}
			<-ctx.Done()
			return Measurement{}, ctx.Err()
		})

		cfg := testConfig(1)
		cfg.EvaluationTimeout = time.Minute
		cfg.QueueDepth = 4

		s, err := NewScheduler(ctx, cfg, backend)
		So(err, ShouldBeNil)
		defer s.Close()

		kernel := testKernel(t, 1)
		obs, err := NewObservable(Term{Name: "Z0", Coefficient: 1})
		So(err, ShouldBeNil)

		Convey("Running and queued units should fail with ErrPoolClosed", func() {
			futures := make([]*Future, 3)
			for i := range futures {
				futures[i], err = s.EvaluateAsync(context.Background(), kernel, obs, []float64{float64(i)}, 0)
				So(err, ShouldBeNil)
			}
			<-started
			cancel()

			for _, future := range futures {
				resolved := make(chan error, 1)
				go func() {
					_, err := future.Resolve()
					resolved <- err
				}()

				select {
				case err := <-resolved:
					So(errors.Is(err, ErrPoolClosed), ShouldBeTrue)
				case <-time.After(2 * time.Second):
					t.Fatal(timeoutMsg)
				}
			}
		})

		Convey("New submissions should be refused", func() {
			cancel()
			for i := 0; i < 20; i++ {
				_, err := s.EvaluateAsync(context.Background(), kernel, obs, []float64{0}, 0)
				So(err, ShouldEqual, ErrPoolClosed)
			}
		})
	})
}

func TestDevicePoolCloseCancelsBackend(t *testing.T) {
	Convey("Given a backend call that runs until its context ends", t, func() {
		started := make(chan struct{}, 1)
		returned := make(chan error, 1)
		backend := BackendFunc(func(ctx context.Context, req Request) (Measurement, error) {
			started <- struct{}{}
			<-ctx.Done()
			returned <- ctx.Err()
			return Measurement{}, ctx.Err()
		})

		cfg := testConfig(1)
		cfg.EvaluationTimeout = time.Minute
		pool, err := NewDevicePool(context.Background(), cfg, backend, nil)
		So(err, ShouldBeNil)

		kernel := testKernel(t, 1)
		future, err := pool.SubmitAsync(context.Background(), 0, NewUnit(kernel, []Term{{Name: "Z0", Coefficient: 1}}, []float64{0}))
		So(err, ShouldBeNil)
		<-started

		Convey("Close should cancel the call", func() {
			pool.Close()

			select {
			case err := <-returned:
				So(err, ShouldEqual, context.Canceled)
			case <-time.After(2 * time.Second):
				t.Fatal(timeoutMsg)
			}

			_, err := future.Resolve()
			So(errors.Is(err, ErrPoolClosed), ShouldBeTrue)
		})
	})
}
