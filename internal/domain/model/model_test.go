package model_test

import (
	"testing"

	"github.com/okian/assay/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSubmissionIdentity(t *testing.T) {
	Convey("Given two submissions with the same title and text", t, func() {
		a := model.NewSubmission("Primitive", "A body", "physics", []float64{1, 2, 3})
		b := model.NewSubmission("Primitive", "A body", "math", nil)

		Convey("Then they share a content-addressed id", func() {
			So(a.ID, ShouldEqual, b.ID)
			So(len(a.ID), ShouldEqual, 64)
		})

		Convey("And a different body changes the id", func() {
			c := model.NewSubmission("Primitive", "Another body", "", nil)
			So(c.ID, ShouldNotEqual, a.ID)
		})
	})
}

func TestEpochOrdering(t *testing.T) {
	Convey("Given the epoch tiers", t, func() {
		So(model.Founder.Next(), ShouldEqual, model.Pioneer)
		So(model.Community.Next(), ShouldEqual, model.Ecosystem)
		So(model.Ecosystem.Next(), ShouldEqual, model.EpochClosed)
		So(model.EpochClosed.Next(), ShouldEqual, model.EpochClosed)
		So(model.EpochClosed.Valid(), ShouldBeFalse)

		Convey("Names round-trip", func() {
			for _, e := range model.Epochs {
				parsed, err := model.ParseEpoch(e.String())
				So(err, ShouldBeNil)
				So(parsed, ShouldEqual, e)
			}
			_, err := model.ParseEpoch("genesis")
			So(err, ShouldNotBeNil)
		})

		Convey("The open prefix follows the pointer", func() {
			state := model.EpochState{Current: model.Pioneer}
			So(state.IsOpen(model.Founder), ShouldBeTrue)
			So(state.IsOpen(model.Pioneer), ShouldBeTrue)
			So(state.IsOpen(model.Community), ShouldBeFalse)
			So(state.Terminal(), ShouldBeFalse)
			So(model.EpochState{Current: model.EpochClosed}.Terminal(), ShouldBeTrue)
			So(model.EpochState{Current: model.EpochClosed}.IsOpen(model.Founder), ShouldBeFalse)
		})
	})
}

func TestParseMetal(t *testing.T) {
	Convey("Given metal tags", t, func() {
		m, ok := model.ParseMetal(" Gold ")
		So(ok, ShouldBeTrue)
		So(m, ShouldEqual, model.Gold)

		_, ok = model.ParseMetal("platinum")
		So(ok, ShouldBeFalse)
	})
}
