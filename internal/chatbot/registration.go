package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

// nameRe accepts letters, spaces, hyphens and apostrophes. Unicode letters
// are allowed so non-ASCII names register fine.
var nameRe = regexp.MustCompile(`^[\p{L}][\p{L} '\-]*$`)

// startRegistration opens the sign-up dialogue for an unknown address.
func (r *Router) startRegistration(ctx context.Context, phone string) error {
	body := "👋 Welcome to Hustleprenure Academy! Let's get you set up.\n\nWhat's your full name? (first name and surname)"
	if _, err := r.sender.SendText(ctx, phone, body); err != nil {
		return fmt.Errorf("Router.startRegistration: %w", err)
	}
	return r.flows.Transition(phone, models.StateRegistrationName, nil)
}

// handleNameCapture validates the supplied full name and moves on to email
// capture. Validation failures are answered with guidance and no state
// change; the text keeps its original casing throughout.
func (r *Router) handleNameCapture(ctx context.Context, phone, text string) error {
	name := strings.Join(strings.Fields(text), " ")
	if len(strings.Fields(name)) < models.MinFullNameParts || !nameRe.MatchString(name) {
		_, err := r.sender.SendText(ctx, phone, "Please send your full name — at least a first name and surname, letters only (e.g. Jane Moyo).")
		return err
	}

	if _, err := r.sender.SendText(ctx, phone, fmt.Sprintf("Thanks, %s! 📧 Now, what's your email address?", firstName(name))); err != nil {
		return fmt.Errorf("Router.handleNameCapture: %w", err)
	}
	return r.flows.Transition(phone, models.StateRegistrationEmail, map[string]string{
		models.CtxFullName: name,
	})
}

// handleEmailCapture validates the email, creates the account, ends the
// registration dialogue, and lands the new user on the main menu.
func (r *Router) handleEmailCapture(ctx context.Context, phone, text string) error {
	email := strings.TrimSpace(text)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		_, sendErr := r.sender.SendText(ctx, phone, "That doesn't look like a valid email address. Please try again (e.g. jane@example.com).")
		return sendErr
	}

	existing, err := r.st.GetUserByEmail(email)
	if err != nil {
		return fmt.Errorf("Router.handleEmailCapture: %w", err)
	}
	if existing != nil && existing.PhoneNumber != phone {
		_, sendErr := r.sender.SendText(ctx, phone, "That email address is already registered. Please use a different one.")
		return sendErr
	}

	f, err := r.flows.Current(phone)
	if err != nil {
		return err
	}
	name := ""
	if f != nil {
		name = f.Ctx(models.CtxFullName, "")
	}
	if name == "" {
		// Context lost mid-registration; start over.
		return r.startRegistration(ctx, phone)
	}

	id, err := r.st.CreateUser(models.User{
		Name:        name,
		Email:       email,
		PhoneNumber: phone,
		VerifiedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("Router.handleEmailCapture: create user: %w", err)
	}
	slog.Info("Router.handleEmailCapture: user registered", "userID", id, "phone", phone)

	// Registration is a terminal event for its dialogue branch.
	if err := r.flows.Clear(phone); err != nil {
		return err
	}
	return r.showMainMenu(ctx, phone)
}
