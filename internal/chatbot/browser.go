package chatbot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/whatsapp"
)

// ListLimit caps browse lists; WhatsApp list messages allow at most ten rows
// and numbered text lists get unwieldy beyond that anyway.
const ListLimit = whatsapp.MaxListRows

// showMainMenu renders the main menu and moves the dialogue there.
func (r *Router) showMainMenu(ctx context.Context, phone string) error {
	name := ""
	if u, err := r.st.GetUserByPhone(phone); err == nil && u != nil {
		name = u.Name
	}
	if _, err := r.sender.SendText(ctx, phone, mainMenuBody(name)); err != nil {
		return fmt.Errorf("Router.showMainMenu: %w", err)
	}
	return r.flows.Transition(phone, models.StateMainMenu, nil)
}

// showHelp renders the help text and remembers the user was viewing it.
func (r *Router) showHelp(ctx context.Context, phone string) error {
	if _, err := r.sender.SendText(ctx, phone, helpBody()); err != nil {
		return fmt.Errorf("Router.showHelp: %w", err)
	}
	return r.flows.Transition(phone, models.StateViewingHelp, nil)
}

// browseCategories lists the categories that have available offerings of the
// given type, as a tappable list. The category IDs are also stored in flow
// context so a plain numeric reply selects by position.
func (r *Router) browseCategories(ctx context.Context, phone string, t models.OfferingType) error {
	categories, err := r.st.ListCategoriesWithOfferings(t, r.now())
	if err != nil {
		return fmt.Errorf("Router.browseCategories: %w", err)
	}
	if len(categories) == 0 {
		noun := "events"
		if t == models.OfferingTypeCourse {
			noun = "courses"
		}
		_, err := r.sender.SendText(ctx, phone, fmt.Sprintf("There are no %s open for enrollment right now. Type *menu* to check back later.", noun))
		return err
	}
	if len(categories) > ListLimit {
		categories = categories[:ListLimit]
	}

	ids := make([]int64, 0, len(categories))
	rows := make([]whatsapp.Row, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
		rows = append(rows, whatsapp.Row{
			ID:          fmt.Sprintf("category_%d", c.ID),
			Title:       c.Name,
			Description: c.Description,
		})
	}

	body := "Pick a category, or reply with its number:"
	for i, c := range categories {
		body += fmt.Sprintf("\n%d. %s", i+1, c.Name)
	}
	if _, err := r.sender.SendList(ctx, phone, body, "Categories", []whatsapp.Section{{Rows: rows}}); err != nil {
		return fmt.Errorf("Router.browseCategories: %w", err)
	}

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("Router.browseCategories: encode ids: %w", err)
	}
	return r.flows.Transition(phone, models.StateBrowsingCategories, map[string]string{
		models.CtxOfferingType: string(t),
		models.CtxCategoryIDs:  string(idsJSON),
	})
}

// listOfferings shows a numbered list of available offerings in a category
// and stores their IDs for positional selection.
func (r *Router) listOfferings(ctx context.Context, phone string, categoryID int64, t models.OfferingType) error {
	offerings, err := r.st.ListOfferingsByCategory(categoryID, t, r.now(), ListLimit)
	if err != nil {
		return fmt.Errorf("Router.listOfferings: %w", err)
	}
	if len(offerings) == 0 {
		_, err := r.sender.SendText(ctx, phone, "Nothing is open for enrollment in that category right now. Type *menu* to browse others.")
		return err
	}

	ids := make([]int64, 0, len(offerings))
	for _, o := range offerings {
		ids = append(ids, o.ID)
	}
	if _, err := r.sender.SendText(ctx, phone, offeringListBody(offerings, t)); err != nil {
		return fmt.Errorf("Router.listOfferings: %w", err)
	}

	state := models.StateBrowsingEvents
	if t == models.OfferingTypeCourse {
		state = models.StateBrowsingCourses
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("Router.listOfferings: encode ids: %w", err)
	}
	return r.flows.Transition(phone, state, map[string]string{
		models.CtxOfferingType: string(t),
		models.CtxCategoryID:   strconv.FormatInt(categoryID, 10),
		models.CtxOfferingIDs:  string(idsJSON),
	})
}

// showOfferingDetails renders the full offering view with an enroll button.
func (r *Router) showOfferingDetails(ctx context.Context, phone string, offeringID int64) error {
	o, err := r.st.GetOffering(offeringID)
	if err != nil {
		return fmt.Errorf("Router.showOfferingDetails: %w", err)
	}
	if o == nil {
		_, err := r.sender.SendText(ctx, phone, "Sorry, that offering could not be found. Type *menu* to browse what's available.")
		return err
	}

	var sessions []models.Session
	if o.Type == models.OfferingTypeCourse {
		if sessions, err = r.st.ListSessions(o.ID); err != nil {
			return fmt.Errorf("Router.showOfferingDetails: %w", err)
		}
	}

	buttons := []whatsapp.Button{
		{ID: fmt.Sprintf("enroll_%s_%d", o.Type, o.ID), Title: "Enroll"},
		{ID: "back_to_main", Title: "Back to menu"},
	}
	if _, err := r.sender.SendButtons(ctx, phone, offeringDetailsBody(o, sessions), buttons); err != nil {
		return fmt.Errorf("Router.showOfferingDetails: %w", err)
	}

	return r.flows.Transition(phone, models.StateViewingEventDetails, map[string]string{
		models.CtxOfferingID:   strconv.FormatInt(o.ID, 10),
		models.CtxOfferingType: string(o.Type),
	})
}

// selectFromContext resolves a 1-based numeric reply against a JSON id list
// stored in flow context. ok is false when the input is not a number or is
// out of range.
func selectFromContext(f *models.Flow, key, input string) (int64, bool) {
	raw := f.Ctx(key, "")
	if raw == "" {
		return 0, false
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(ids) {
		return 0, false
	}
	return ids[n-1], true
}
