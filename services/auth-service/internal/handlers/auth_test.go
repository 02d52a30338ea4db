package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/groupchat/libs/httpx"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
	"github.com/md-rashed-zaman/groupchat/services/auth-service/internal/user"
)

type fakeUsers struct {
	registered *user.User
	err        error
}

func (f *fakeUsers) Register(_ context.Context, email, nickName, password string) (*user.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, err := user.Register(testNow, email, nickName, password)
	f.registered = u
	return u, err
}

func (f *fakeUsers) Authenticate(_ context.Context, email, password string) (*user.User, error) {
	if f.registered == nil || f.registered.Email != email {
		return nil, user.ErrInvalidCredentials
	}
	if err := f.registered.VerifyPassword(password); err != nil {
		return nil, err
	}
	return f.registered, nil
}

func (f *fakeUsers) Get(_ context.Context, id uuid.UUID) (*user.User, error) {
	if f.registered == nil || f.registered.ID != id {
		return nil, user.ErrNotFound
	}
	return f.registered, nil
}

var testNow = time.Now()

func serve(users Users, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	NewAuthHandler(users, runtime.NopLogger()).Routes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func post(path, body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
}

func TestRegisterLoginMe(t *testing.T) {
	users := &fakeUsers{}

	rec := serve(users, post("/v1/auth/register", `{"email":"a@x.io","nickName":"alice","password":"secret1","confirmPassword":"secret1"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"nickName":"alice"`)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = serve(users, post("/v1/auth/login", `{"email":"a@x.io","password":"secret1"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = serve(users, post("/v1/auth/login", `{"email":"a@x.io","password":"nope123"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set(httpx.UserIDHeader, users.registered.ID.String())
	rec = serve(users, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), users.registered.ID.String())
}

func TestRegisterRejectsMismatchedPasswords(t *testing.T) {
	rec := serve(&fakeUsers{}, post("/v1/auth/register", `{"email":"a@x.io","nickName":"alice","password":"secret1","confirmPassword":"secret2"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterMapsErrors(t *testing.T) {
	body := `{"email":"a@x.io","nickName":"alice","password":"secret1","confirmPassword":"secret1"}`
	cases := map[error]int{
		user.ErrEmailTaken:    http.StatusConflict,
		user.ErrNickNameTaken: http.StatusConflict,
		user.ErrInvalid:       http.StatusBadRequest,
	}
	for err, code := range cases {
		rec := serve(&fakeUsers{err: err}, post("/v1/auth/register", body))
		assert.Equal(t, code, rec.Code, err.Error())
	}
}
