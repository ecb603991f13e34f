package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/model"
	"github.com/NicolasHaas/pixgallery/pkg/session"
	"github.com/NicolasHaas/pixgallery/pkg/shape"
)

type fakeDoer struct {
	doFn  func(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
	calls []apiclient.Request
}

func (f *fakeDoer) Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error) {
	f.calls = append(f.calls, req)
	if f.doFn == nil {
		return nil, errors.New("unexpected call")
	}
	return f.doFn(ctx, req)
}

func jsonReply(body string) func(context.Context, apiclient.Request) (*apiclient.Response, error) {
	return func(context.Context, apiclient.Request) (*apiclient.Response, error) {
		return &apiclient.Response{Status: http.StatusOK, Body: []byte(body), IsJSON: true, JSON: shape.Parse([]byte(body))}, nil
	}
}

func errReply(err error) func(context.Context, apiclient.Request) (*apiclient.Response, error) {
	return func(context.Context, apiclient.Request) (*apiclient.Response, error) {
		return nil, err
	}
}

func newService(t *testing.T, doer *fakeDoer, opts ...Option) (*Service, *session.MemoryKV) {
	t.Helper()
	kv := session.NewMemoryKV()
	sess := session.New(kv)
	if err := sess.Init(); err != nil {
		t.Fatalf("session Init: %v", err)
	}
	return NewService(doer, sess, opts...), kv
}

func TestLoginNestedEnvelope(t *testing.T) {
	doer := &fakeDoer{doFn: jsonReply(`{"data":{"user":{"id":1,"username":"a","role":"admin"},"token":"T"}}`)}
	svc, _ := newService(t, doer)

	got, err := svc.Login(context.Background(), "a@x.io", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	want := &model.User{ID: "1", Username: "a", Email: "a@x.io", Role: model.RoleAdmin}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Login user mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, svc.Session().User()); diff != "" {
		t.Errorf("cached user mismatch (-want +got):\n%s", diff)
	}
	if tok := svc.Session().Token(); tok != "T" {
		t.Errorf("token = %q, want T", tok)
	}

	req := doer.calls[0]
	if req.Endpoint != LoginEndpoint || req.Method != http.MethodPost || !req.NoAuth {
		t.Errorf("login request = %+v", req)
	}
}

func TestRolePrecedence(t *testing.T) {
	tests := []struct {
		name string
		body string
		want model.Role
	}{
		{"data.user.role", `{"data":{"user":{"role":"admin"},"role":"user"},"role":"user"}`, model.RoleAdmin},
		{"user.role", `{"user":{"role":"admin"},"data":{"role":"user"}}`, model.RoleAdmin},
		{"data.role", `{"data":{"role":"admin"},"role":"user"}`, model.RoleAdmin},
		{"role", `{"role":"admin","userRole":"user"}`, model.RoleAdmin},
		{"userRole on user object", `{"user":{"userRole":"admin"}}`, model.RoleAdmin},
		{"userRole on top level", `{"userRole":"admin","token":"T"}`, model.RoleAdmin},
		{"default", `{"user":{"id":"9"}}`, model.RoleUser},
		{"empty role ignored", `{"data":{"user":{"role":""}},"role":"admin"}`, model.RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractUser(shape.Parse([]byte(tt.body)), fallback{role: model.RoleUser})
			if got.Role != tt.want {
				t.Errorf("role = %q, want %q", got.Role, tt.want)
			}
		})
	}
}

func TestExtractUserFieldFallbacks(t *testing.T) {
	tests := []struct {
		name string
		body string
		fb   fallback
		want model.User
	}{
		{
			name: "mongo style id on user object",
			body: `{"user":{"_id":"abc","username":"bob","email":"b@x.io"},"token":"T"}`,
			fb:   fallback{role: model.RoleUser},
			want: model.User{ID: "abc", Username: "bob", Email: "b@x.io", Role: model.RoleUser},
		},
		{
			name: "flat document",
			body: `{"id":7,"username":"carol","email":"c@x.io","role":"admin"}`,
			fb:   fallback{role: model.RoleUser},
			want: model.User{ID: "7", Username: "carol", Email: "c@x.io", Role: model.RoleAdmin},
		},
		{
			name: "missing fields use supplied values",
			body: `{"success":true}`,
			fb:   fallback{username: "dave", email: "d@x.io", role: model.RoleUser},
			want: model.User{Username: "dave", Email: "d@x.io", Role: model.RoleUser},
		},
		{
			name: "top level id when user object lacks one",
			body: `{"_id":"top","user":{"username":"erin"}}`,
			fb:   fallback{role: model.RoleUser},
			want: model.User{ID: "top", Username: "erin", Role: model.RoleUser},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractUser(shape.Parse([]byte(tt.body)), tt.fb)
			if diff := cmp.Diff(&tt.want, got); diff != "" {
				t.Errorf("extractUser mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegisterFallsBackToArguments(t *testing.T) {
	doer := &fakeDoer{doFn: jsonReply(`{"success":true,"token":"R"}`)}
	svc, _ := newService(t, doer)

	got, err := svc.Register(context.Background(), "newbie", "n@x.io", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	want := &model.User{Username: "newbie", Email: "n@x.io", Role: model.RoleUser}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Register user mismatch (-want +got):\n%s", diff)
	}
	if tok := svc.Session().Token(); tok != "R" {
		t.Errorf("token = %q, want R", tok)
	}
}

func TestLoginErrorLeavesSessionAlone(t *testing.T) {
	doer := &fakeDoer{doFn: errReply(&apiclient.AuthError{RequestError: &apiclient.RequestError{Status: 401, Message: "bad credentials"}})}
	svc, _ := newService(t, doer)

	if _, err := svc.Login(context.Background(), "a@x.io", "wrong"); err == nil {
		t.Fatalf("Login: expected error")
	}
	if svc.Session().Active() {
		t.Errorf("failed login started a session")
	}
}

func TestVerifySession(t *testing.T) {
	cached := &model.User{ID: "1", Username: "a", Email: "a@x.io", Role: model.RoleAdmin}

	type tcase struct {
		doFn       func(context.Context, apiclient.Request) (*apiclient.Response, error)
		opts       []Option
		seed       bool
		wantStatus VerifyStatus
		wantUser   *model.User
		wantToken  string
		wantCalls  int
	}

	tcases := map[string]tcase{
		"no_session": {
			seed:       false,
			wantStatus: StatusNoSession,
			wantCalls:  0,
		},
		"verification_disabled": {
			seed:       true,
			opts:       []Option{WithoutVerification()},
			wantStatus: StatusSkipped,
			wantUser:   cached,
			wantToken:  "T",
		},
		"verified_merges_server_fields": {
			seed:       true,
			doFn:       jsonReply(`{"data":{"user":{"id":1,"username":"a-renamed"}}}`),
			wantStatus: StatusVerified,
			wantUser:   &model.User{ID: "1", Username: "a-renamed", Email: "a@x.io", Role: model.RoleAdmin},
			wantToken:  "T",
			wantCalls:  1,
		},
		"verified_server_demotes": {
			seed:       true,
			doFn:       jsonReply(`{"user":{"id":"1","role":"user"}}`),
			wantStatus: StatusVerified,
			wantUser:   &model.User{ID: "1", Username: "a", Email: "a@x.io", Role: model.RoleUser},
			wantToken:  "T",
			wantCalls:  1,
		},
		"not_found_keeps_session": {
			seed:       true,
			doFn:       errReply(&apiclient.RequestError{Status: 404, Message: "request failed: 404 Not Found"}),
			wantStatus: StatusEndpointMissing,
			wantUser:   cached,
			wantToken:  "T",
			wantCalls:  1,
		},
		"html_404_keeps_session": {
			seed:       true,
			doFn:       errReply(&apiclient.RequestError{Status: 404, HTMLPage: true}),
			wantStatus: StatusEndpointMissing,
			wantUser:   cached,
			wantToken:  "T",
			wantCalls:  1,
		},
		"unauthorized_clears_session": {
			seed:       true,
			doFn:       errReply(&apiclient.AuthError{RequestError: &apiclient.RequestError{Status: 401}}),
			wantStatus: StatusInvalidated,
			wantCalls:  1,
		},
		"forbidden_clears_session": {
			seed:       true,
			doFn:       errReply(&apiclient.AuthError{RequestError: &apiclient.RequestError{Status: 403}}),
			wantStatus: StatusInvalidated,
			wantCalls:  1,
		},
		"unauthorized_message_clears_session": {
			seed:       true,
			doFn:       errReply(&apiclient.RequestError{Status: 500, Message: "Unauthorized"}),
			wantStatus: StatusInvalidated,
			wantCalls:  1,
		},
		"network_error_keeps_role": {
			seed:       true,
			doFn:       errReply(&apiclient.RequestError{Message: "network error or server unavailable", Err: errors.New("dial tcp: refused")}),
			wantStatus: StatusKept,
			wantUser:   cached,
			wantToken:  "T",
			wantCalls:  1,
		},
		"server_error_keeps_role": {
			seed:       true,
			doFn:       errReply(&apiclient.RequestError{Status: 502, Message: "bad gateway"}),
			wantStatus: StatusKept,
			wantUser:   cached,
			wantToken:  "T",
			wantCalls:  1,
		},
	}

	fn := func(tc tcase) func(*testing.T) {
		return func(t *testing.T) {
			doer := &fakeDoer{doFn: tc.doFn}
			svc, kv := newService(t, doer, tc.opts...)
			if tc.seed {
				if err := svc.Session().Begin("T", cached); err != nil {
					t.Fatalf("Begin: %v", err)
				}
			}

			status, err := svc.VerifySession(context.Background())
			if err != nil {
				t.Fatalf("VerifySession: unexpected error: %v", err)
			}
			if status != tc.wantStatus {
				t.Errorf("status = %s, want %s", status, tc.wantStatus)
			}
			if diff := cmp.Diff(tc.wantUser, svc.Session().User()); diff != "" {
				t.Errorf("cached user mismatch (-want +got):\n%s", diff)
			}
			if got := svc.Session().Token(); got != tc.wantToken {
				t.Errorf("token = %q, want %q", got, tc.wantToken)
			}
			if len(doer.calls) != tc.wantCalls {
				t.Errorf("backend calls = %d, want %d", len(doer.calls), tc.wantCalls)
			}
			if tc.wantStatus == StatusInvalidated {
				if _, ok, _ := kv.Get(session.TokenKey); ok {
					t.Errorf("token still persisted after invalidation")
				}
			}
		}
	}

	for name, tc := range tcases {
		t.Run(name, fn(tc))
	}
}

func TestRequireRole(t *testing.T) {
	svc, _ := newService(t, &fakeDoer{})

	if _, err := svc.RequireRole(model.RoleAdmin); !errors.Is(err, ErrForbidden) || !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("signed out: err = %v, want ErrNotSignedIn", err)
	}

	_ = svc.Session().Begin("T", &model.User{ID: "1", Role: model.RoleUser})
	if _, err := svc.RequireRole(model.RoleAdmin); !errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotSignedIn) {
		t.Errorf("user role: err = %v, want ErrForbidden only", err)
	}

	_ = svc.Session().Begin("T", &model.User{ID: "1", Role: model.RoleAdmin})
	if u, err := svc.RequireRole(model.RoleAdmin); err != nil || u.ID != "1" {
		t.Errorf("admin role: u=%v err=%v", u, err)
	}

	if err := svc.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if svc.Session().Active() {
		t.Errorf("Logout left an active session")
	}
}
