package redundancy_test

import (
	"testing"

	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/internal/domain/redundancy"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAssessor(t *testing.T) {
	Convey("Given a default assessor", t, func() {
		a := redundancy.NewAssessor()

		Convey("When there are no matches", func() {
			got := a.Assess(nil)
			So(got.Overlap, ShouldEqual, 0)
			So(got.SweetSpot, ShouldBeFalse)
			So(got.Closest, ShouldEqual, "")
		})

		Convey("When the best match sits inside the sweet spot", func() {
			got := a.Assess([]model.Match{{SubmissionID: "a", Score: 0.15}, {SubmissionID: "b", Score: 0.05}})
			So(got.Overlap, ShouldAlmostEqual, 15, 1e-9)
			So(got.SweetSpot, ShouldBeTrue)
			So(got.Closest, ShouldEqual, "a")
		})

		Convey("When overlap is high", func() {
			got := a.Assess([]model.Match{{SubmissionID: "dup", Score: 0.97}})
			So(got.Overlap, ShouldAlmostEqual, 97, 1e-9)
			So(got.SweetSpot, ShouldBeFalse)
		})

		Convey("When the band edges are hit exactly", func() {
			So(a.Band().Contains(9.2), ShouldBeTrue)
			So(a.Band().Contains(19.2), ShouldBeTrue)
			So(a.Band().Contains(19.3), ShouldBeFalse)
		})
	})

	Convey("Given a custom band", t, func() {
		a := redundancy.NewAssessor(redundancy.WithSweetSpot(20, 40))
		So(a.Assess([]model.Match{{Score: 0.3}}).SweetSpot, ShouldBeTrue)

		Convey("An invalid band is ignored", func() {
			b := redundancy.NewAssessor(redundancy.WithSweetSpot(50, 10))
			So(b.Band().Low, ShouldEqual, redundancy.DefaultSweetSpotLow)
		})
	})
}
