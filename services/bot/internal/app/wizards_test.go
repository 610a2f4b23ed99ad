package app

import (
	"strings"
	"testing"

	"bookshopbot/pkg/domain"
)

func feed(t *testing.T, p Pending, inputs ...string) StepResult {
	t.Helper()
	var res StepResult
	for i, in := range inputs {
		res = Advance(p, in)
		if i < len(inputs)-1 {
			if res.Next == nil {
				t.Fatalf("wizard finished early at input %d (%q)", i, in)
			}
			p = *res.Next
		}
	}
	return res
}

func TestRegistrationRepromptsInvalidEmail(t *testing.T) {
	p, prompt := StartRegistration()
	if prompt != promptFirstName {
		t.Fatalf("unexpected first prompt: %q", prompt)
	}
	res := feed(t, p, "Ann", "Lee", "not-an-email")
	if res.Next == nil || res.Next.Step != StepEmail {
		t.Fatalf("expected to stay on the email step, got %+v", res.Next)
	}
	if !strings.Contains(res.Reply, msgInvalidEmail) || !strings.Contains(res.Reply, promptEmail) {
		t.Fatalf("unexpected reprompt: %q", res.Reply)
	}
	if res.Next.Draft.FirstName != "Ann" || res.Next.Draft.Email != "" {
		t.Fatalf("draft should keep answers so far: %+v", res.Next.Draft)
	}
}

func TestRegistrationCompletes(t *testing.T) {
	p, _ := StartRegistration()
	res := feed(t, p, "Ann", "Lee", "ann@example.com", "12345", "0123456789")
	if res.Next != nil || res.Effect.Kind != EffectRegister {
		t.Fatalf("expected registration effect, got %+v", res)
	}
	u := res.Effect.User
	if u.FirstName != "Ann" || u.Email != "ann@example.com" || u.Phone != "0123456789" || u.Role != "" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestRegistrationRejectsBlankName(t *testing.T) {
	p, _ := StartRegistration()
	res := Advance(p, "   ")
	if res.Next == nil || res.Next.Step != StepFirstName {
		t.Fatalf("expected first name reprompt, got %+v", res)
	}
}

func TestAddUserDefaultsInvalidRole(t *testing.T) {
	p, _ := StartAddUser()
	res := feed(t, p, "Bob", "Stone", "bob@example.com", "0123456789", "555", "superuser")
	if res.Next != nil || res.Effect.Kind != EffectCreateUser {
		t.Fatalf("expected create effect, got %+v", res)
	}
	if res.Reply != msgInvalidRole {
		t.Fatalf("expected role warning, got %q", res.Reply)
	}
	u := res.Effect.User
	if u.Role != domain.RoleUser || u.TelegramID == nil || *u.TelegramID != 555 {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestAddUserSkipsTelegramID(t *testing.T) {
	p, _ := StartAddUser()
	res := feed(t, p, "Bob", "Stone", "bob@example.com", "0123456789", "-", "ADMIN")
	if res.Effect.User.TelegramID != nil || res.Effect.User.Role != domain.RoleAdmin || res.Reply != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAddUserRepromptsBadTelegramID(t *testing.T) {
	p, _ := StartAddUser()
	res := feed(t, p, "Bob", "Stone", "bob@example.com", "0123456789", "12ab")
	if res.Next == nil || res.Next.Step != StepTelegramID {
		t.Fatalf("expected telegram id reprompt, got %+v", res)
	}
}

func TestPromoteAndJump(t *testing.T) {
	p, _ := StartPromote()
	if res := Advance(p, "x"); res.Next == nil || res.Next.Flow != FlowPromote {
		t.Fatalf("expected promote reprompt")
	}
	if res := Advance(p, "42"); res.Effect.Kind != EffectPromote || res.Effect.UserID != 42 {
		t.Fatalf("unexpected promote effect: %+v", res.Effect)
	}
	j, _ := StartJump()
	if res := Advance(j, "0"); res.Next == nil || res.Reply == "" {
		t.Fatalf("expected jump reprompt")
	}
	if res := Advance(j, " 7 "); res.Effect.Kind != EffectShowPage || res.Effect.Page != 7 {
		t.Fatalf("unexpected jump effect: %+v", res.Effect)
	}
}
