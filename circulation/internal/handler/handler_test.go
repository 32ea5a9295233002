package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Astemirdum/library-circulation/circulation/internal/errs"
	"github.com/Astemirdum/library-circulation/circulation/internal/handler"
	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/Astemirdum/library-circulation/pkg/auth"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	service_mocks "github.com/Astemirdum/library-circulation/circulation/internal/handler/mocks"
)

var (
	staffID  = uuid.MustParse("6f2b7f1e-5f8a-4c39-9f3c-0a6a3f0b9d11")
	memberID = uuid.MustParse("0d4b1c3e-2a7f-4e55-8b6e-1f9e0c7a2b33")
	itemID   = uuid.MustParse("83575e12-7ce0-48ee-9931-51919ff3c9ee")
	holdID   = uuid.MustParse("f7cdc58f-2caf-4b15-9727-f89dcc629b27")
)

type request struct {
	method string
	target string
	body   string
	userID string
	role   string
}

type response struct {
	expectedCode int
	expectedBody string
}

type mockBehavior func(svc *service_mocks.MockCirculationService, sw *service_mocks.MockSweeper)

func serve(t *testing.T, behavior mockBehavior, req request) *httptest.ResponseRecorder {
	t.Helper()
	c := gomock.NewController(t)
	svc := service_mocks.NewMockCirculationService(c)
	sw := service_mocks.NewMockSweeper(c)
	behavior(svc, sw)

	h := handler.New(svc, sw, zap.NewExample().Named("test"))
	e := h.NewRouter()

	r := httptest.NewRequest(req.method, req.target, http.NoBody)
	if req.body != "" {
		r = httptest.NewRequest(req.method, req.target, strings.NewReader(req.body))
	}
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if req.userID != "" {
		r.Header.Set(auth.XUserIDHeader, req.userID)
	}
	if req.role != "" {
		r.Header.Set(auth.XUserRoleHeader, req.role)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)
	return w
}

func TestHandler_Borrow(t *testing.T) {
	t.Parallel()
	body := fmt.Sprintf(`{"barcode":"B-1","memberId":"%s"}`, memberID)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		request      request
		response     response
	}{
		{
			name: "ok",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					Borrow(gomock.Any(), "B-1", memberID, staffID).
					Return(model.LoanView{Loan: model.Loan{MemberID: memberID, Status: model.LoanBorrowed}, Barcode: "B-1"}, nil)
			},
			request:  request{method: http.MethodPost, target: "/api/v1/loans", body: body, userID: staffID.String(), role: auth.RoleStaff},
			response: response{expectedCode: http.StatusCreated},
		},
		{
			name:         "err. no identity",
			mockBehavior: func(*service_mocks.MockCirculationService, *service_mocks.MockSweeper) {},
			request:      request{method: http.MethodPost, target: "/api/v1/loans", body: body},
			response:     response{expectedCode: http.StatusUnauthorized, expectedBody: `{"message":"user-id is empty or invalid"}`},
		},
		{
			name:         "err. patron",
			mockBehavior: func(*service_mocks.MockCirculationService, *service_mocks.MockSweeper) {},
			request:      request{method: http.MethodPost, target: "/api/v1/loans", body: body, userID: memberID.String()},
			response:     response{expectedCode: http.StatusForbidden, expectedBody: `{"message":"staff role required"}`},
		},
		{
			name:         "err. barcode required",
			mockBehavior: func(*service_mocks.MockCirculationService, *service_mocks.MockSweeper) {},
			request: request{method: http.MethodPost, target: "/api/v1/loans", userID: staffID.String(), role: auth.RoleStaff,
				body: fmt.Sprintf(`{"memberId":"%s"}`, memberID)},
			response: response{expectedCode: http.StatusBadRequest},
		},
		{
			name: "err. copy unavailable",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					Borrow(gomock.Any(), "B-1", memberID, staffID).
					Return(model.LoanView{}, errs.ErrCopyUnavailable)
			},
			request:  request{method: http.MethodPost, target: "/api/v1/loans", body: body, userID: staffID.String(), role: auth.RoleStaff},
			response: response{expectedCode: http.StatusUnprocessableEntity, expectedBody: `{"message":"unprocessable: copy is not available"}`},
		},
		{
			name: "err. held for another member",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					Borrow(gomock.Any(), "B-1", memberID, staffID).
					Return(model.LoanView{}, errs.ErrHeldForAnotherMember)
			},
			request:  request{method: http.MethodPost, target: "/api/v1/loans", body: body, userID: staffID.String(), role: auth.RoleStaff},
			response: response{expectedCode: http.StatusForbidden, expectedBody: `{"message":"forbidden: copy is held for another member"}`},
		},
		{
			name: "err. internal",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					Borrow(gomock.Any(), "B-1", memberID, staffID).
					Return(model.LoanView{}, errors.New("db internal"))
			},
			request:  request{method: http.MethodPost, target: "/api/v1/loans", body: body, userID: staffID.String(), role: auth.RoleStaff},
			response: response{expectedCode: http.StatusInternalServerError, expectedBody: `{"message":"db internal"}`},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := serve(t, tt.mockBehavior, tt.request)
			require.Equal(t, tt.response.expectedCode, w.Code)
			if tt.response.expectedBody != "" {
				require.Equal(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
			}
		})
	}
}

func TestHandler_ReturnCopy(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		body         string
		response     response
	}{
		{
			name: "ok. damaged",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					ReturnCopy(gomock.Any(), "B-1", memberID, model.ReturnDamaged, staffID).
					Return(model.LoanView{Loan: model.Loan{Status: model.LoanReturnedDamaged, Fine: 20}, Barcode: "B-1"}, nil)
			},
			body:     fmt.Sprintf(`{"barcode":"B-1","memberId":"%s","kind":"DAMAGED"}`, memberID),
			response: response{expectedCode: http.StatusOK},
		},
		{
			name:         "err. unknown kind",
			mockBehavior: func(*service_mocks.MockCirculationService, *service_mocks.MockSweeper) {},
			body:         fmt.Sprintf(`{"barcode":"B-1","memberId":"%s","kind":"BURNT"}`, memberID),
			response:     response{expectedCode: http.StatusBadRequest},
		},
		{
			name: "err. no open loan",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					ReturnCopy(gomock.Any(), "B-1", memberID, model.ReturnKind(""), staffID).
					Return(model.LoanView{}, errs.ErrNoOpenLoan)
			},
			body:     fmt.Sprintf(`{"barcode":"B-1","memberId":"%s"}`, memberID),
			response: response{expectedCode: http.StatusNotFound, expectedBody: `{"message":"not found: no open loan for this copy"}`},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := serve(t, tt.mockBehavior, request{
				method: http.MethodPost, target: "/api/v1/loans/return", body: tt.body,
				userID: staffID.String(), role: auth.RoleStaff,
			})
			require.Equal(t, tt.response.expectedCode, w.Code)
			if tt.response.expectedBody != "" {
				require.Equal(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
			}
		})
	}
}

func TestHandler_Renew(t *testing.T) {
	t.Parallel()
	loanID := uuid.MustParse("2c9e4f0a-7b1d-4e8a-9c3f-5d6e7f8a9b0c")

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		target       string
		expectedCode int
	}{
		{
			name: "ok",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					Renew(gomock.Any(), loanID, memberID).
					Return(model.LoanView{Loan: model.Loan{ID: loanID, RenewalCount: 1}}, nil)
			},
			target:       "/api/v1/loans/" + loanID.String() + "/renew",
			expectedCode: http.StatusOK,
		},
		{
			name:         "err. bad id",
			mockBehavior: func(*service_mocks.MockCirculationService, *service_mocks.MockSweeper) {},
			target:       "/api/v1/loans/abc/renew",
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "err. waitlist",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					Renew(gomock.Any(), loanID, memberID).
					Return(model.LoanView{}, errs.ErrItemHasWaitlist)
			},
			target:       "/api/v1/loans/" + loanID.String() + "/renew",
			expectedCode: http.StatusUnprocessableEntity,
		},
		{
			name: "err. not owner",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					Renew(gomock.Any(), loanID, memberID).
					Return(model.LoanView{}, errs.ErrNotOwner)
			},
			target:       "/api/v1/loans/" + loanID.String() + "/renew",
			expectedCode: http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := serve(t, tt.mockBehavior, request{
				method: http.MethodPost, target: tt.target, userID: memberID.String(), role: auth.RolePatron,
			})
			require.Equal(t, tt.expectedCode, w.Code)
		})
	}
}

func TestHandler_Holds(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		request      request
		response     response
	}{
		{
			name: "place. ok",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					PlaceHold(gomock.Any(), itemID, memberID).
					Return(model.HoldView{Hold: model.Hold{ID: holdID, ItemID: itemID, MemberID: memberID, Status: model.HoldWaiting}}, nil)
			},
			request: request{method: http.MethodPost, target: "/api/v1/holds", userID: memberID.String(),
				body: fmt.Sprintf(`{"itemId":"%s"}`, itemID)},
			response: response{expectedCode: http.StatusCreated},
		},
		{
			name: "place. err duplicate",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().
					PlaceHold(gomock.Any(), itemID, memberID).
					Return(model.HoldView{}, errs.ErrDuplicateHold)
			},
			request: request{method: http.MethodPost, target: "/api/v1/holds", userID: memberID.String(),
				body: fmt.Sprintf(`{"itemId":"%s"}`, itemID)},
			response: response{expectedCode: http.StatusConflict, expectedBody: `{"message":"conflict: member already holds this item"}`},
		},
		{
			name: "cancel. ok",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().CancelHold(gomock.Any(), holdID, memberID).Return(nil)
			},
			request:  request{method: http.MethodDelete, target: "/api/v1/holds/" + holdID.String(), userID: memberID.String()},
			response: response{expectedCode: http.StatusNoContent},
		},
		{
			name: "cancel. err not owner",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().CancelHold(gomock.Any(), holdID, memberID).Return(errs.ErrNotOwner)
			},
			request:  request{method: http.MethodDelete, target: "/api/v1/holds/" + holdID.String(), userID: memberID.String()},
			response: response{expectedCode: http.StatusForbidden, expectedBody: `{"message":"forbidden: requester is not the owner"}`},
		},
		{
			name:         "cancel. err bad id",
			mockBehavior: func(*service_mocks.MockCirculationService, *service_mocks.MockSweeper) {},
			request:      request{method: http.MethodDelete, target: "/api/v1/holds/42", userID: memberID.String()},
			response:     response{expectedCode: http.StatusBadRequest, expectedBody: `{"message":"holdId is invalid"}`},
		},
		{
			name: "cancel. err not found",
			mockBehavior: func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
				svc.EXPECT().CancelHold(gomock.Any(), holdID, memberID).Return(errs.NotFound("hold", holdID.String()))
			},
			request:  request{method: http.MethodDelete, target: "/api/v1/holds/" + holdID.String(), userID: memberID.String()},
			response: response{expectedCode: http.StatusNotFound, expectedBody: fmt.Sprintf(`{"message":"not found: hold %s"}`, holdID)},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := serve(t, tt.mockBehavior, tt.request)
			require.Equal(t, tt.response.expectedCode, w.Code)
			if tt.response.expectedBody != "" {
				require.Equal(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
			}
		})
	}
}

func TestHandler_Availability(t *testing.T) {
	t.Parallel()

	t.Run("count", func(t *testing.T) {
		t.Parallel()
		w := serve(t, func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
			svc.EXPECT().AvailableCount(gomock.Any(), itemID).Return(3, nil)
		}, request{method: http.MethodGet, target: "/api/v1/items/" + itemID.String() + "/availability", userID: memberID.String()})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, fmt.Sprintf(`{"itemId":"%s","availableCount":3}`, itemID), strings.Trim(w.Body.String(), "\n"))
	})

	t.Run("stream", func(t *testing.T) {
		t.Parallel()
		w := serve(t, func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
			ch := make(chan model.Availability, 2)
			ch <- model.Availability{ItemID: itemID, AvailableCount: 1}
			ch <- model.Availability{ItemID: itemID, AvailableCount: 0}
			close(ch)
			var updates <-chan model.Availability = ch
			svc.EXPECT().Subscribe(gomock.Any(), itemID).Return(updates, nil)
		}, request{method: http.MethodGet, target: "/api/v1/items/" + itemID.String() + "/availability/stream", userID: memberID.String()})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "text/event-stream", w.Header().Get(echo.HeaderContentType))
		want := fmt.Sprintf("event: availability\ndata: {\"itemId\":\"%[1]s\",\"availableCount\":1}\n\n"+
			"event: availability\ndata: {\"itemId\":\"%[1]s\",\"availableCount\":0}\n\n", itemID)
		require.Equal(t, want, w.Body.String())
	})

	t.Run("stream. err", func(t *testing.T) {
		t.Parallel()
		w := serve(t, func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
			svc.EXPECT().Subscribe(gomock.Any(), itemID).Return(nil, context.Canceled)
		}, request{method: http.MethodGet, target: "/api/v1/items/" + itemID.String() + "/availability/stream", userID: memberID.String()})
		require.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandler_StaffOperations(t *testing.T) {
	t.Parallel()

	t.Run("release", func(t *testing.T) {
		t.Parallel()
		w := serve(t, func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
			svc.EXPECT().ReleaseCopy(gomock.Any(), "B-7").Return(nil)
		}, request{method: http.MethodPost, target: "/api/v1/copies/B-7/release", userID: staffID.String(), role: auth.RoleStaff})
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("release. not releasable", func(t *testing.T) {
		t.Parallel()
		w := serve(t, func(svc *service_mocks.MockCirculationService, _ *service_mocks.MockSweeper) {
			svc.EXPECT().ReleaseCopy(gomock.Any(), "B-7").Return(errs.ErrCopyNotReleasable)
		}, request{method: http.MethodPost, target: "/api/v1/copies/B-7/release", userID: staffID.String(), role: auth.RoleStaff})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("sweep", func(t *testing.T) {
		t.Parallel()
		w := serve(t, func(_ *service_mocks.MockCirculationService, sw *service_mocks.MockSweeper) {
			sw.EXPECT().Sweep(gomock.Any()).Return(model.SweepReport{Overdue: model.PassReport{Candidates: 2, Processed: 2}}, nil)
		}, request{method: http.MethodPost, target: "/api/v1/sweeps", userID: staffID.String(), role: auth.RoleStaff})
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `"overdue":{"candidates":2,"processed":2,"failed":0}`)
	})

	t.Run("sweep. patron", func(t *testing.T) {
		t.Parallel()
		w := serve(t, func(*service_mocks.MockCirculationService, *service_mocks.MockSweeper) {},
			request{method: http.MethodPost, target: "/api/v1/sweeps", userID: memberID.String(), role: auth.RolePatron})
		require.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()
	w := serve(t, func(*service_mocks.MockCirculationService, *service_mocks.MockSweeper) {},
		request{method: http.MethodGet, target: "/manage/health"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())
}
