package engine_test

import (
	"errors"
	"testing"

	"caseline/internal/engine"
)

func TestStoreExemptionRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	_, err := env.Engine.StoreExemption(env.Ctx, a.ID, true, "  ", "wo")
	var val engine.ValidationError
	if !errors.As(err, &val) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if val.Field != "exemption_reason" {
		t.Fatalf("expected exemption_reason field, got %s", val.Field)
	}
	rec, err := env.Engine.StoreExemption(env.Ctx, a.ID, true, "area below threshold", "wo")
	if err != nil {
		t.Fatalf("store exemption: %v", err)
	}
	if !rec.Exempt || rec.ExemptionReason == "" {
		t.Fatalf("exemption not recorded: %+v", rec)
	}
	// clearing the exemption drops the stale reason
	rec, err = env.Engine.StoreExemption(env.Ctx, a.ID, false, "", "wo")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Exempt || rec.ExemptionReason != "" {
		t.Fatalf("expected cleared exemption, got %+v", rec)
	}
}

func TestPublishRequiresPeriod(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	for _, period := range []int{0, -7} {
		_, err := env.Engine.PublishToRegister(env.Ctx, a.ID, period, "wo")
		var val engine.ValidationError
		if !errors.As(err, &val) {
			t.Fatalf("period %d: expected validation error, got %v", period, err)
		}
	}
	rec, err := env.Engine.PublishToRegister(env.Ctx, a.ID, 28, "wo")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if rec.PublishedAt == nil || rec.PeriodDays != 28 || rec.EsriID == nil {
		t.Fatalf("publication not recorded: %+v", rec)
	}
	if len(env.Register.published) != 1 {
		t.Fatalf("expected one remote publish, got %d", len(env.Register.published))
	}
	// re-publishing a live entry is a no-op
	if _, err := env.Engine.PublishToRegister(env.Ctx, a.ID, 28, "wo"); err != nil {
		t.Fatalf("re-publish: %v", err)
	}
	if len(env.Register.published) != 1 {
		t.Fatal("live entry must not be re-published remotely")
	}
}

func TestPublishRejectedWhenExempt(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	if _, err := env.Engine.StoreExemption(env.Ctx, a.ID, true, "below threshold", "wo"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.PublishToRegister(env.Ctx, a.ID, 28, "wo")
	var pre engine.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	// never published: removal succeeds as a no-op
	if _, err := env.Engine.RemoveFromRegister(env.Ctx, a.ID, "wo"); err != nil {
		t.Fatalf("remove absent entry: %v", err)
	}
	if _, err := env.Engine.PublishToRegister(env.Ctx, a.ID, 28, "wo"); err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.RemoveFromRegister(env.Ctx, a.ID, "wo")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if rec.RemovedAt == nil {
		t.Fatal("removal not stamped")
	}
	// removing again is still a success
	if _, err := env.Engine.RemoveFromRegister(env.Ctx, a.ID, "wo"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if len(env.Register.removed) != 1 {
		t.Fatalf("expected one remote removal, got %d", len(env.Register.removed))
	}
}

func TestReviewComment(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	c, err := env.Engine.AddRegisterComment(env.Ctx, a.ID, "Parish Council", "object to the clear fell", "wo")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if c.Reviewed {
		t.Fatal("new comment must start unreviewed")
	}
	c, err = env.Engine.ReviewComment(env.Ctx, a.ID, c.ID, "objection noted, screening belt retained", "wo")
	if err != nil {
		t.Fatalf("review comment: %v", err)
	}
	if !c.Reviewed || c.Comment != "objection noted, screening belt retained" {
		t.Fatalf("review not applied: %+v", c)
	}
	_, err = env.Engine.ReviewComment(env.Ctx, a.ID, "missing-id", "", "wo")
	var pre engine.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected precondition error for unknown comment, got %v", err)
	}
	if pre.Redirect != "comment/missing-id" {
		t.Fatalf("expected redirect back to the comment, got %s", pre.Redirect)
	}
}
