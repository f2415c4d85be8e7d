package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Wyydra/duo/internal/core/domain"
)

func TestOfferAnswerRules(t *testing.T) {
	ctx := context.Background()
	a := NewConnectivity("a")
	b := NewConnectivity("b")

	offer, err := a.CreateOffer(ctx)
	if err != nil || offer.Kind != domain.KindOffer {
		t.Fatalf("CreateOffer = %+v, %v", offer, err)
	}
	if _, err := a.CreateAnswer(ctx, domain.NewOffer("other")); !errors.Is(err, ErrHaveOffer) {
		t.Errorf("answering with an outstanding offer: %v", err)
	}

	answer, err := b.CreateAnswer(ctx, offer)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetRemoteDescription(ctx, answer); err != nil {
		t.Fatal(err)
	}
	if a.HasLocalOffer() {
		t.Error("offer should be settled")
	}
	if err := a.SetRemoteDescription(ctx, answer); !errors.Is(err, ErrNoLocalOffer) {
		t.Errorf("second answer: %v", err)
	}
	if err := a.SetRemoteDescription(ctx, offer); !errors.Is(err, ErrWrongKind) {
		t.Errorf("offer as answer: %v", err)
	}
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	c := NewConnectivity("a")
	if err := c.Rollback(ctx); !errors.Is(err, ErrNoLocalOffer) {
		t.Errorf("rollback without offer: %v", err)
	}
	c.CreateOffer(ctx)
	if err := c.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if c.HasLocalOffer() || c.Rollbacks() != 1 {
		t.Error("rollback should discard the offer")
	}
}

func TestAddTrackFiresCallback(t *testing.T) {
	c := NewConnectivity("a")
	calls := 0
	c.OnLocalMediaChanged(func() { calls++ })
	c.AddTrack("camera")
	c.AddTrack("mic")
	if calls != 2 {
		t.Errorf("callback fired %d times", calls)
	}

	offer, _ := c.CreateOffer(context.Background())
	if offer.Body != "a-offer-1 tracks=2" {
		t.Errorf("offer body %q", offer.Body)
	}
}

func TestClosed(t *testing.T) {
	c := NewConnectivity("a")
	c.Close()
	if !c.Closed() {
		t.Fatal("Closed() = false")
	}
	if _, err := c.CreateOffer(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateOffer after close: %v", err)
	}
}

func TestFactory(t *testing.T) {
	f := NewFactory("peer")
	if f.Last() != nil {
		t.Error("empty factory should have no last instance")
	}
	ctx := context.Background()
	f.NewConnectivity(ctx)
	second, _ := f.NewConnectivity(ctx)
	if f.Count() != 2 || f.Last() != second {
		t.Errorf("count %d", f.Count())
	}
	offer, _ := f.Last().CreateOffer(ctx)
	if offer.Body != "peer#2-offer-1 tracks=0" {
		t.Errorf("offer body %q", offer.Body)
	}
}
