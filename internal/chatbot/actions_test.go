package chatbot

import (
	"testing"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want Action
	}{
		{"browse events", "browse_events", Action{Kind: ActionBrowseEvents}},
		{"browse courses", "browse_courses", Action{Kind: ActionBrowseCourses}},
		{"browse alone", "browse", Action{Kind: ActionUnknown}},
		{"category with id", "category_3", Action{Kind: ActionCategory, CategoryID: 3}},
		{"category without id", "category", Action{Kind: ActionUnknown}},
		{"category non-numeric", "category_abc", Action{Kind: ActionUnknown}},
		{"view with id", "view_12", Action{Kind: ActionViewOffering, OfferingID: 12}},
		{"view with entity word", "view_event_12", Action{Kind: ActionViewOffering, OfferingID: 12}},
		{"enroll with entity word", "enroll_event_7", Action{Kind: ActionEnroll, OfferingID: 7}},
		{"enroll course", "enroll_course_4", Action{Kind: ActionEnroll, OfferingID: 4}},
		{"enroll bare id", "enroll_4", Action{Kind: ActionEnroll, OfferingID: 4}},
		{"payment ecocash", "payment_ecocash", Action{Kind: ActionPayment, Method: models.PaymentMethodEcocash}},
		{"payment onemoney", "payment_onemoney", Action{Kind: ActionPayment, Method: models.PaymentMethodOnemoney}},
		{"payment unsupported", "payment_visa", Action{Kind: ActionUnknown}},
		{"my enrollments", "my_enrollments", Action{Kind: ActionMyEnrollments}},
		{"bare enrollments", "enrollments", Action{Kind: ActionMyEnrollments}},
		{"menu", "menu", Action{Kind: ActionMenu}},
		{"back to main", "back_to_main", Action{Kind: ActionBack}},
		{"help", "help", Action{Kind: ActionHelp}},
		{"check payment status", "check_payment_status", Action{Kind: ActionCheckPayment}},
		{"empty", "", Action{Kind: ActionUnknown}},
		{"whitespace", "   ", Action{Kind: ActionUnknown}},
		{"garbage", "frobnicate_9", Action{Kind: ActionUnknown}},
		{"trailing segments ignored", "enroll_event_7_extra", Action{Kind: ActionEnroll, OfferingID: 7}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseAction(tc.id)
			if got != tc.want {
				t.Errorf("ParseAction(%q) = %+v, want %+v", tc.id, got, tc.want)
			}
		})
	}
}
