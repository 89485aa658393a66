package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestField_PrefixesName(t *testing.T) {
	v := Field("targetUser", Required())

	err := v("  ")
	if err == nil {
		t.Fatal("expected error for blank value")
	}
	if !strings.HasPrefix(err.Error(), "targetUser: ") {
		t.Errorf("expected field name prefix, got %q", err.Error())
	}
}

func TestOptional_SkipsBlank(t *testing.T) {
	v := Optional(Email())

	if err := v(""); err != nil {
		t.Errorf("expected blank value to pass, got %v", err)
	}
	if err := v("not-an-email"); err == nil {
		t.Error("expected invalid email to fail")
	}
}

func TestUsername(t *testing.T) {
	valid := []string{"alex", "mila.k", "user_1", "someone@example.com"}
	for _, name := range valid {
		if err := Username()(name); err != nil {
			t.Errorf("expected %q to be valid, got %v", name, err)
		}
	}

	invalid := []string{"", "two words", "semi;colon"}
	for _, name := range invalid {
		if err := Username()(name); err == nil {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}

func TestRoutingKey(t *testing.T) {
	if err := RoutingKey()("review.commented"); err != nil {
		t.Errorf("expected valid routing key, got %v", err)
	}
	for _, key := range []string{"", "Review.Created", "review..created", "review.created."} {
		if err := RoutingKey()(key); err == nil {
			t.Errorf("expected %q to be rejected", key)
		}
	}
}

func TestOneOf(t *testing.T) {
	v := OneOf("zap", "zerolog")
	if err := v("zap"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v("logrus"); err == nil {
		t.Error("expected error for value outside the list")
	}
}

func TestAll_JoinsFailures(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")

	err := All(first, nil, second)
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Errorf("expected both errors joined, got %v", err)
	}
	if All(nil, nil) != nil {
		t.Error("expected nil when every check passes")
	}
}
