package identify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseBody() []byte
	GetAdminToken() string
	Expand(value string) string
	Remember(name string, value float64)
	Recall(name string) (float64, bool)
}

// RegisterSteps registers reconciliation step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &identifySteps{tc: tc}

	// Request steps
	ctx.Step(`^I identify with email "([^"]*)" and phone "([^"]*)"$`, steps.identifyWithBoth)
	ctx.Step(`^I identify with email "([^"]*)"$`, steps.identifyWithEmail)
	ctx.Step(`^I identify with phone "([^"]*)"$`, steps.identifyWithPhone)
	ctx.Step(`^I identify with numeric phone (\d+)$`, steps.identifyWithNumericPhone)
	ctx.Step(`^I identify with an empty body$`, steps.identifyWithEmptyBody)
	ctx.Step(`^I list all contacts$`, steps.listContacts)

	// Response steps
	ctx.Step(`^the contact emails should be "([^"]*)"$`, steps.emailsShouldBe)
	ctx.Step(`^the contact phone numbers should be "([^"]*)"$`, steps.phonesShouldBe)
	ctx.Step(`^the contact should have (\d+) secondary contacts?$`, steps.secondaryCountShouldBe)
	ctx.Step(`^I remember the primary contact id as "([^"]*)"$`, steps.rememberPrimary)
	ctx.Step(`^the primary contact id should be "([^"]*)"$`, steps.primaryShouldBe)
	ctx.Step(`^the contact list should include email "([^"]*)"$`, steps.listIncludesEmail)
}

type identifySteps struct {
	tc TestContext
}

func (s *identifySteps) identifyWithBoth(ctx context.Context, email, phone string) error {
	return s.tc.POST("/identify", map[string]interface{}{
		"email":       s.tc.Expand(email),
		"phoneNumber": s.tc.Expand(phone),
	})
}

func (s *identifySteps) identifyWithEmail(ctx context.Context, email string) error {
	return s.tc.POST("/identify", map[string]interface{}{
		"email":       s.tc.Expand(email),
		"phoneNumber": nil,
	})
}

func (s *identifySteps) identifyWithPhone(ctx context.Context, phone string) error {
	return s.tc.POST("/identify", map[string]interface{}{
		"email":       nil,
		"phoneNumber": s.tc.Expand(phone),
	})
}

func (s *identifySteps) identifyWithNumericPhone(ctx context.Context, phone int64) error {
	return s.tc.POST("/identify", map[string]interface{}{
		"phoneNumber": phone,
	})
}

func (s *identifySteps) identifyWithEmptyBody(ctx context.Context) error {
	return s.tc.POST("/identify", map[string]interface{}{})
}

func (s *identifySteps) listContacts(ctx context.Context) error {
	headers := map[string]string{}
	if token := s.tc.GetAdminToken(); token != "" {
		headers["X-Admin-Token"] = token
	}
	return s.tc.GET("/identify", headers)
}

func (s *identifySteps) emailsShouldBe(ctx context.Context, expected string) error {
	return s.listFieldShouldBe("contact.emails", expected)
}

func (s *identifySteps) phonesShouldBe(ctx context.Context, expected string) error {
	return s.listFieldShouldBe("contact.phoneNumbers", expected)
}

func (s *identifySteps) listFieldShouldBe(field, expected string) error {
	raw, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	values, ok := raw.([]interface{})
	if !ok {
		return fmt.Errorf("%s is not a list: %v", field, raw)
	}
	want := []string{}
	if expected != "" {
		for _, v := range strings.Split(expected, ",") {
			want = append(want, s.tc.Expand(strings.TrimSpace(v)))
		}
	}
	got := make([]string, len(values))
	for i, v := range values {
		got[i] = fmt.Sprint(v)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("expected %s %v, got %v", field, want, got)
	}
	return nil
}

func (s *identifySteps) secondaryCountShouldBe(ctx context.Context, count int) error {
	raw, err := s.tc.GetResponseField("contact.secondaryContactIds")
	if err != nil {
		return err
	}
	ids, ok := raw.([]interface{})
	if !ok {
		return fmt.Errorf("secondaryContactIds is not a list: %v", raw)
	}
	if len(ids) != count {
		return fmt.Errorf("expected %d secondary contacts, got %d", count, len(ids))
	}
	return nil
}

func (s *identifySteps) primaryID() (float64, error) {
	raw, err := s.tc.GetResponseField("contact.primaryContactId")
	if err != nil {
		return 0, err
	}
	id, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("primaryContactId is not a number: %v", raw)
	}
	return id, nil
}

func (s *identifySteps) rememberPrimary(ctx context.Context, name string) error {
	id, err := s.primaryID()
	if err != nil {
		return err
	}
	s.tc.Remember(name, id)
	return nil
}

func (s *identifySteps) primaryShouldBe(ctx context.Context, name string) error {
	want, ok := s.tc.Recall(name)
	if !ok {
		return fmt.Errorf("no primary remembered as %q", name)
	}
	got, err := s.primaryID()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected primary %v (%s), got %v", want, name, got)
	}
	return nil
}

func (s *identifySteps) listIncludesEmail(ctx context.Context, email string) error {
	var contacts []struct {
		Email *string `json:"email"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &contacts); err != nil {
		return fmt.Errorf("contact list is not a JSON array: %w", err)
	}
	want := s.tc.Expand(email)
	for _, c := range contacts {
		if c.Email != nil && *c.Email == want {
			return nil
		}
	}
	return fmt.Errorf("no contact with email %q in %d contacts", want, len(contacts))
}
