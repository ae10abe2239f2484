package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/suite"

	"identify/internal/contact/models"
	"identify/internal/contact/service"
	"identify/internal/contact/store"
	dErrors "identify/pkg/domain-errors"
	"identify/pkg/platform/middleware/admin"
	"identify/pkg/testutil"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type HandlerSuite struct {
	suite.Suite
	router http.Handler
	golden *goldie.Goldie
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.router = s.newRouter(nil)
	s.golden = goldie.New(s.T(),
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func (s *HandlerSuite) newRouter(svc Service, opts ...Option) http.Handler {
	if svc == nil {
		mem := store.NewInMemoryStore()
		svc = service.New(mem, mem)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	r := chi.NewRouter()
	New(svc, logger, opts...).Register(r)
	return r
}

func (s *HandlerSuite) TestIdentify() {
	s.Run("first sighting creates a primary", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/identify",
			map[string]string{"email": "a@x.com"}))
		s.Equal(http.StatusOK, rr.Code)
		s.Equal("application/json", rr.Header().Get("Content-Type"))
		s.golden.Assert(s.T(), "identify_created_primary", rr.Body.Bytes())
	})

	s.Run("numeric phone number links a secondary", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/identify",
			`{"email":"a@x.com","phoneNumber":123456}`))
		s.Equal(http.StatusOK, rr.Code)
		s.golden.Assert(s.T(), "identify_numeric_phone", rr.Body.Bytes())
	})

	s.Run("null email with string phone", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/identify",
			`{"email":null,"phoneNumber":"123456"}`))
		s.Equal(http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[IdentifyResponse](s.T(), rr)
		s.Equal(models.ContactID(1), resp.Contact.PrimaryContactID)
		s.Equal([]models.ContactID{2}, resp.Contact.SecondaryContactIDs)
	})

	s.Run("contacts dump lists every record", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/identify", nil))
		s.Equal(http.StatusOK, rr.Code)
		s.golden.Assert(s.T(), "contacts_dump", rr.Body.Bytes())
	})
}

func (s *HandlerSuite) TestIdentifyRejectsBadInput() {
	s.Run("missing identity", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/identify",
			`{"email":"  ","phoneNumber":null}`))
		s.Equal(http.StatusBadRequest, rr.Code)
		s.golden.Assert(s.T(), "identify_missing_identity", rr.Body.Bytes())
	})

	tests := []struct {
		name string
		body string
		desc string
	}{
		{"malformed json", `{"email":`, "invalid request body"},
		{"empty body", ``, "invalid request body"},
		{"boolean phone", `{"phoneNumber":true}`, "invalid request body"},
		{"numeric email", `{"email":42}`, "invalid request body"},
		{"trailing data", `{"email":"a@x.com"} {}`, "invalid request body"},
		{"email too long", `{"email":"` + strings.Repeat("a", 321) + `"}`, "email is too long"},
		{"phone too long", `{"phoneNumber":"` + strings.Repeat("1", 33) + `"}`, "phoneNumber is too long"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/identify", tt.body))
			testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidRequest))
			resp := testutil.UnmarshalResponse[map[string]string](s.T(), rr)
			s.Equal(tt.desc, (*resp)["error_description"])
		})
	}

	s.Run("non-json content type", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/identify", `email=a@x.com`)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusUnsupportedMediaType, rr.Code)
	})
}

type failingService struct {
	err error
}

func (f failingService) Reconcile(context.Context, string, string) (*models.ConsolidatedContact, error) {
	return nil, f.err
}

func (f failingService) ListContacts(context.Context) ([]*models.Contact, error) {
	return nil, f.err
}

func (s *HandlerSuite) TestServiceErrors() {
	tests := []struct {
		name   string
		err    error
		status int
		code   dErrors.Code
	}{
		{"store failure", dErrors.Wrap(errors.New("connection refused"), dErrors.CodeStore, "contact store failure"), http.StatusInternalServerError, dErrors.CodeStore},
		{"consistency violation", dErrors.New(dErrors.CodeConsistencyViolation, "cluster 1 has 2 primaries"), http.StatusInternalServerError, dErrors.CodeConsistencyViolation},
		{"timeout", dErrors.Wrap(context.DeadlineExceeded, dErrors.CodeTimeout, "reconcile aborted"), http.StatusGatewayTimeout, dErrors.CodeTimeout},
		{"uncoded", errors.New("boom"), http.StatusInternalServerError, dErrors.CodeInternal},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			router := s.newRouter(failingService{err: tt.err})

			rr := testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/identify",
				map[string]string{"email": "a@x.com"}))
			testutil.AssertStatusAndError(s.T(), rr, tt.status, string(tt.code))
			s.NotContains(rr.Body.String(), "error_description")

			rr = testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/identify", nil))
			s.Equal(tt.status, rr.Code)
		})
	}
}

func (s *HandlerSuite) TestAdminToken() {
	router := s.newRouter(nil, WithAdminToken("s3cret"))

	s.Run("dump requires the token", func() {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/identify", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})

	s.Run("dump with the token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/identify", nil)
		req.Header.Set(admin.HeaderAdminToken, "s3cret")
		rr := testutil.DoRequest(router, req)
		s.Equal(http.StatusOK, rr.Code)
		s.JSONEq(`[]`, rr.Body.String())
	})

	s.Run("reconcile stays open", func() {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/identify",
			map[string]string{"phoneNumber": "999"}))
		s.Equal(http.StatusOK, rr.Code)
	})
}

func (s *HandlerSuite) TestPhoneNumberDecoding() {
	tests := []struct {
		in   string
		want PhoneNumber
	}{
		{`"555-0100"`, "555-0100"},
		{`5550100`, "5550100"},
		{`null`, ""},
		{`""`, ""},
	}
	for _, tt := range tests {
		s.Run(tt.in, func() {
			var p PhoneNumber
			s.Require().NoError(p.UnmarshalJSON([]byte(tt.in)))
			s.Equal(tt.want, p)
		})
	}
}
