package chatbot

import (
	"fmt"
	"strings"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

// Main menu option numbers accepted as text replies.
const (
	menuOptionEvents      = 1
	menuOptionCourses     = 2
	menuOptionEnrollments = 3
	menuOptionHelp        = 4
)

func mainMenuBody(name string) string {
	greeting := "👋 Welcome to Hustleprenure Academy!"
	if name != "" {
		greeting = fmt.Sprintf("👋 Welcome back, %s!", firstName(name))
	}
	return greeting + "\n\n" +
		"What would you like to do?\n\n" +
		"1️⃣ Upcoming events\n" +
		"2️⃣ Courses\n" +
		"3️⃣ My enrollments\n" +
		"4️⃣ Help\n\n" +
		"Reply with a number, or type *menu* any time to come back here."
}

func helpBody() string {
	return "ℹ️ *How this works*\n\n" +
		"• Type *menu* or *start* for the main menu\n" +
		"• Browse events and courses, then tap *Enroll* on anything you like\n" +
		"• Pay securely with EcoCash or OneMoney\n" +
		"• Type *my enrollments* to see what you've signed up for\n\n" +
		"Need a human? Email support@hustleprenureacademy.co.zw"
}

func offeringListBody(offerings []models.Offering, t models.OfferingType) string {
	var b strings.Builder
	if t == models.OfferingTypeEvent {
		b.WriteString("📅 *Upcoming events:*\n")
	} else {
		b.WriteString("📚 *Available courses:*\n")
	}
	for i, o := range offerings {
		fmt.Fprintf(&b, "\n%d. *%s* — %s", i+1, o.Title, priceLabel(o))
		if o.StartAt != nil {
			fmt.Fprintf(&b, "\n    🗓 %s", o.StartAt.Format("Mon, 02 Jan 2006 15:04"))
		}
		if o.ShortDescription != "" {
			fmt.Fprintf(&b, "\n    %s", o.ShortDescription)
		}
	}
	b.WriteString("\n\nReply with a number to see full details.")
	return b.String()
}

func offeringDetailsBody(o *models.Offering, sessions []models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", o.Title)
	if o.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", o.Description)
	}
	fmt.Fprintf(&b, "\n💵 %s", priceLabel(*o))
	if o.StartAt != nil {
		fmt.Fprintf(&b, "\n🗓 %s", o.StartAt.Format("Monday, 02 Jan 2006 at 15:04"))
	}
	if o.Location != "" {
		fmt.Fprintf(&b, "\n📍 %s (%s)", o.Location, o.LocationType)
	}
	if o.DurationHours > 0 {
		fmt.Fprintf(&b, "\n⏱ %d hours", o.DurationHours)
	}
	if len(o.Instructors) > 0 {
		fmt.Fprintf(&b, "\n🎓 %s", strings.Join(o.Instructors, ", "))
	}
	if len(sessions) > 0 {
		fmt.Fprintf(&b, "\n\n%d sessions, starting %s", len(sessions), sessions[0].StartAt.Format("02 Jan 2006"))
	}
	return b.String()
}

func priceLabel(o models.Offering) string {
	if o.Amount == 0 {
		return "Free"
	}
	return fmt.Sprintf("$%.2f %s", o.Amount, o.Currency)
}

func firstName(full string) string {
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	return full
}
