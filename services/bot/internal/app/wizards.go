package app

import (
	"strings"

	"bookshopbot/internal/validate"
	"bookshopbot/pkg/domain"
)

// EffectKind is the side effect a finished wizard asks the bot to perform.
type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectRegister
	EffectCreateUser
	EffectPromote
	EffectShowPage
)

type Effect struct {
	Kind EffectKind
	// User is set for EffectRegister (role left empty) and EffectCreateUser.
	User   domain.NewUser
	UserID int64
	Page   int
}

// StepResult is the outcome of feeding one input to a wizard. Next is nil
// once the wizard has finished.
type StepResult struct {
	Next   *Pending
	Reply  string
	Effect Effect
}

const (
	promptFirstName     = "Enter your first name:"
	promptLastName      = "Enter your last name:"
	promptEmail         = "Enter your email:"
	promptPhone         = "Enter your phone number (10 digits):"
	promptNewFirstName  = "Enter the new user's first name:"
	promptNewLastName   = "Enter the new user's last name:"
	promptNewEmail      = "Enter the new user's email:"
	promptNewPhone      = "Enter the new user's phone number (10 digits):"
	promptTelegramID    = "Enter the user's Telegram ID, or '-' to skip:"
	promptRole          = "Enter the role (user or admin):"
	promptPromoteUserID = "Enter the user ID to promote:"
	promptPage          = "Enter the page number:"

	msgEmptyName     = "This field cannot be empty."
	msgInvalidEmail  = "Invalid email format."
	msgInvalidPhone  = "Invalid phone number. It must contain exactly 10 digits."
	msgInvalidTgID   = "Invalid Telegram ID format. Use digits only."
	msgInvalidRole   = "Invalid role. User will be created with role 'user'."
	msgInvalidUserID = "Invalid user ID format. Use a positive number."
	msgInvalidPage   = "Please enter a valid page number (integer greater than 0)."
)

// StartRegistration begins self-registration for a guest.
func StartRegistration() (Pending, string) {
	return Pending{Flow: FlowRegister, Step: StepFirstName}, promptFirstName
}

// StartAddUser begins the admin add-user wizard.
func StartAddUser() (Pending, string) {
	return Pending{Flow: FlowAddUser, Step: StepFirstName}, promptNewFirstName
}

// StartPromote begins the admin promotion wizard.
func StartPromote() (Pending, string) {
	return Pending{Flow: FlowPromote, Step: StepUserID}, promptPromoteUserID
}

// StartJump asks for a page number.
func StartJump() (Pending, string) {
	return Pending{Flow: FlowJumpPage, Step: StepPage}, promptPage
}

// Advance feeds input to the wizard in p. A failed gate re-prompts the same
// step; it never mutates state outside the returned continuation.
func Advance(p Pending, input string) StepResult {
	input = strings.TrimSpace(input)
	switch p.Flow {
	case FlowRegister, FlowAddUser:
		return advanceProfile(p, input)
	case FlowPromote:
		id, ok := validate.UserID(input)
		if !ok {
			return retry(p, msgInvalidUserID, promptPromoteUserID)
		}
		return StepResult{Effect: Effect{Kind: EffectPromote, UserID: id}}
	case FlowJumpPage:
		page, ok := validate.PageNumber(input)
		if !ok {
			return retry(p, msgInvalidPage, promptPage)
		}
		return StepResult{Effect: Effect{Kind: EffectShowPage, Page: page}}
	}
	return StepResult{}
}

func advanceProfile(p Pending, input string) StepResult {
	admin := p.Flow == FlowAddUser
	prompt := func(self, other string) string {
		if admin {
			return other
		}
		return self
	}
	switch p.Step {
	case StepFirstName:
		if !validate.NonEmpty(input) {
			return retry(p, msgEmptyName, prompt(promptFirstName, promptNewFirstName))
		}
		p.Draft.FirstName = input
		return next(p, StepLastName, prompt(promptLastName, promptNewLastName))
	case StepLastName:
		if !validate.NonEmpty(input) {
			return retry(p, msgEmptyName, prompt(promptLastName, promptNewLastName))
		}
		p.Draft.LastName = input
		return next(p, StepEmail, prompt(promptEmail, promptNewEmail))
	case StepEmail:
		if !validate.Email(input) {
			return retry(p, msgInvalidEmail, prompt(promptEmail, promptNewEmail))
		}
		p.Draft.Email = input
		return next(p, StepPhone, prompt(promptPhone, promptNewPhone))
	case StepPhone:
		if !validate.Phone(input) {
			return retry(p, msgInvalidPhone, prompt(promptPhone, promptNewPhone))
		}
		p.Draft.Phone = input
		if !admin {
			return StepResult{Effect: Effect{Kind: EffectRegister, User: draftUser(p.Draft, "")}}
		}
		return next(p, StepTelegramID, promptTelegramID)
	case StepTelegramID:
		if !skipped(input) {
			id, ok := validate.TelegramID(input)
			if !ok {
				return retry(p, msgInvalidTgID, promptTelegramID)
			}
			p.Draft.TelegramID = &id
		}
		return next(p, StepRole, promptRole)
	case StepRole:
		role, ok := validate.Role(input)
		res := StepResult{}
		if !ok {
			role = domain.RoleUser
			res.Reply = msgInvalidRole
		}
		res.Effect = Effect{Kind: EffectCreateUser, User: draftUser(p.Draft, role)}
		return res
	}
	return StepResult{}
}

func next(p Pending, step Step, prompt string) StepResult {
	p.Step = step
	return StepResult{Next: &p, Reply: prompt}
}

func retry(p Pending, problem, prompt string) StepResult {
	return StepResult{Next: &p, Reply: problem + "\n" + prompt}
}

func skipped(input string) bool {
	switch strings.ToLower(input) {
	case "", "-", "skip":
		return true
	}
	return false
}

func draftUser(d Draft, role domain.UserRole) domain.NewUser {
	return domain.NewUser{
		TelegramID: d.TelegramID,
		Role:       role,
		FirstName:  d.FirstName,
		LastName:   d.LastName,
		Email:      d.Email,
		Phone:      d.Phone,
	}
}
