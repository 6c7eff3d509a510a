package epoch_test

import (
	"errors"
	"testing"

	"github.com/okian/assay/internal/domain/epoch"
	"github.com/okian/assay/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestQualifier(t *testing.T) {
	Convey("Given the reference thresholds", t, func() {
		q, err := epoch.NewQualifier(epoch.DefaultThresholds)
		So(err, ShouldBeNil)

		Convey("When mapping totals to tiers", func() {
			So(q.QualifyEpoch(8000), ShouldEqual, model.Founder)
			So(q.QualifyEpoch(9999), ShouldEqual, model.Founder)
			So(q.QualifyEpoch(7999.99), ShouldEqual, model.Pioneer)
			So(q.QualifyEpoch(5000), ShouldEqual, model.Community)
			So(q.QualifyEpoch(4000), ShouldEqual, model.Ecosystem)
			So(q.QualifyEpoch(10), ShouldEqual, model.Ecosystem)
		})

		Convey("When only founder is open", func() {
			state := model.EpochState{Current: model.Founder}

			Convey("Then the founder threshold decides", func() {
				So(q.IsQualifiedForOpenEpoch(8000, state), ShouldBeTrue)
				So(q.IsQualifiedForOpenEpoch(7000, state), ShouldBeFalse)
			})
		})

		Convey("When the pointer has reached community", func() {
			state := model.EpochState{Current: model.Community}

			Convey("Then the current tier threshold applies, not the best match", func() {
				So(q.IsQualifiedForOpenEpoch(5000, state), ShouldBeTrue)
				So(q.IsQualifiedForOpenEpoch(4999, state), ShouldBeFalse)

				d := q.Decide(9000, state)
				So(d.Epoch, ShouldEqual, model.Founder)
				So(d.Qualified, ShouldBeTrue)
				So(d.Threshold, ShouldEqual, 5000)
			})
		})

		Convey("When every tier is closed", func() {
			state := model.EpochState{Current: model.EpochClosed}
			So(q.IsQualifiedForOpenEpoch(10000, state), ShouldBeFalse)
			So(q.Decide(10000, state).Qualified, ShouldBeFalse)
		})
	})

	Convey("Given thresholds that increase down the order", t, func() {
		bad := epoch.Thresholds{Founder: 8000, Pioneer: 9000, Community: 5000, Ecosystem: 4000}

		Convey("Then construction fails", func() {
			_, err := epoch.NewQualifier(bad)
			So(errors.Is(err, epoch.ErrInvalidThresholds), ShouldBeTrue)
		})
	})

	Convey("Given equal thresholds", t, func() {
		q, err := epoch.NewQualifier(epoch.Thresholds{Founder: 5000, Pioneer: 5000, Community: 5000, Ecosystem: 5000})
		So(err, ShouldBeNil)
		So(q.QualifyEpoch(5000), ShouldEqual, model.Founder)
	})
}
