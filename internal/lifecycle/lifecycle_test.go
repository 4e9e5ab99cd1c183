package lifecycle

import (
	"errors"
	"testing"
)

func TestTransitionAllowsReviewAndOutcomes(t *testing.T) {
	status, err := Transition(StatusDraft, StatusUnderReview)
	if err != nil {
		t.Fatalf("draft to under review: %v", err)
	}
	if status != StatusUnderReview {
		t.Fatalf("expected UNDER_REVIEW, got %s", status)
	}

	for _, outcome := range []Status{StatusMerged, StatusRejected} {
		got, err := Transition(StatusUnderReview, outcome)
		if err != nil {
			t.Fatalf("under review to %s: %v", outcome, err)
		}
		if got != outcome {
			t.Fatalf("expected %s, got %s", outcome, got)
		}
	}
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
	}{
		{StatusDraft, StatusMerged},
		{StatusDraft, StatusRejected},
		{StatusMerged, StatusUnderReview},
		{StatusRejected, StatusUnderReview},
		{StatusMerged, StatusRejected},
		{StatusUnderReview, StatusDraft},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.to)
		if err == nil {
			t.Fatalf("expected %s to %s to fail", tc.from, tc.to)
		}
		var transitionErr *TransitionError
		if !errors.As(err, &transitionErr) {
			t.Fatalf("expected TransitionError, got %T", err)
		}
		if got != tc.from {
			t.Fatalf("failed transition should keep %s, got %s", tc.from, got)
		}
	}
}

func TestTerminal(t *testing.T) {
	if Terminal(StatusDraft) || Terminal(StatusUnderReview) {
		t.Fatal("draft and under review are not terminal")
	}
	if !Terminal(StatusMerged) || !Terminal(StatusRejected) {
		t.Fatal("merged and rejected are terminal")
	}
	if Terminal(Status("BOGUS")) {
		t.Fatal("unknown status is not terminal")
	}
}

func TestValid(t *testing.T) {
	if !Valid(StatusDraft) {
		t.Fatal("DRAFT should be valid")
	}
	if Valid(Status("BOGUS")) {
		t.Fatal("BOGUS should be invalid")
	}
}
