package qobserve

import (
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPartitionByParameter(t *testing.T) {
	Convey("Given batches of many sizes", t, func() {
		for _, size := range []int{1, 2, 3, 7, 10, 64, 1000} {
			batch, err := NewParameterBatch(rows(size, 2), WithShots(250))
			So(err, ShouldBeNil)

			for _, n := range []int{1, 2, 3, 4, 5, 16} {
				parts, err := PartitionByParameter(batch, n)
				So(err, ShouldBeNil)
				So(parts, ShouldHaveLength, n)

				smallest, largest := size, 0
				var joined [][]float64
				for i, part := range parts {
					smallest = min(smallest, part.Len())
					largest = max(largest, part.Len())
					So(part.Offset(), ShouldEqual, len(joined))
					So(part.Shots(), ShouldEqual, 250)
					for j := 0; j < part.Len(); j++ {
						joined = append(joined, part.Row(j))
					}
					if i > 0 {
						So(part.Len(), ShouldBeLessThanOrEqualTo, parts[i-1].Len())
					}
				}

				So(largest-smallest, ShouldBeLessThanOrEqualTo, 1)
				So(joined, ShouldResemble, batch.rows)
			}
		}
	})

	Convey("Given invalid inputs", t, func() {
		batch, err := NewParameterBatch(rows(3, 1))
		So(err, ShouldBeNil)

		Convey("A non-positive device count should fail", func() {
			_, err := PartitionByParameter(batch, 0)
			So(err, ShouldHaveSameTypeAs, &InvalidDeviceError{})
		})

		Convey("An empty batch should fail", func() {
			_, err := PartitionByParameter(&ParameterBatch{}, 2)
			So(err, ShouldHaveSameTypeAs, &EmptyBatchError{})
		})
	})
}

func TestPartitionByTerm(t *testing.T) {
	Convey("Given an observable with unit costs", t, func() {
		terms := make([]Term, 10)
		for i := range terms {
			terms[i] = Term{Name: fmt.Sprintf("Z%d", i), Coefficient: 1}
		}
		obs, err := NewObservable(terms...)
		So(err, ShouldBeNil)

		Convey("It should balance term counts", func() {
			groups, err := PartitionByTerm(obs, 4)
			So(err, ShouldBeNil)
			So(groups, ShouldHaveLength, 4)

			seen := make(map[int]bool)
			for g, group := range groups {
				So(group.Index, ShouldEqual, g)
				So(len(group.Terms), ShouldBeBetweenOrEqual, 2, 3)
				So(group.Load, ShouldEqual, float64(len(group.Terms)))

				for j, idx := range group.TermIndices {
					So(seen[idx], ShouldBeFalse)
					seen[idx] = true
					So(group.Terms[j], ShouldResemble, obs.Term(idx))
					if j > 0 {
						So(idx, ShouldBeGreaterThan, group.TermIndices[j-1])
					}
				}
			}
			So(seen, ShouldHaveLength, 10)
		})

		Convey("It should never produce empty groups", func() {
			groups, err := PartitionByTerm(obs, 32)
			So(err, ShouldBeNil)
			So(groups, ShouldHaveLength, 10)
			for _, group := range groups {
				So(group.Terms, ShouldHaveLength, 1)
			}
		})

		Convey("A single group should keep the original order", func() {
			groups, err := PartitionByTerm(obs, 1)
			So(err, ShouldBeNil)
			So(groups[0].Terms, ShouldResemble, obs.Terms())
		})
	})

	Convey("Given terms with uneven costs", t, func() {
		obs, err := NewObservable(
			Term{Name: "A", Coefficient: 1, Cost: 8},
			Term{Name: "B", Coefficient: 1, Cost: 1},
			Term{Name: "C", Coefficient: 1, Cost: 4},
			Term{Name: "D", Coefficient: 1, Cost: 4},
			Term{Name: "E", Coefficient: 1, Cost: 1},
		)
		So(err, ShouldBeNil)

		Convey("It should spread the expensive terms", func() {
			groups, err := PartitionByTerm(obs, 2)
			So(err, ShouldBeNil)

			// A→0, C→1, D→1, then B breaks the 8/8 tie toward the
			// group with fewer terms and E fills group 1.
			So(groups[0].TermIndices, ShouldResemble, []int{0, 1})
			So(groups[1].TermIndices, ShouldResemble, []int{2, 3, 4})
			So(groups[0].Load, ShouldEqual, 9.0)
			So(groups[1].Load, ShouldEqual, 9.0)
		})
	})
}
