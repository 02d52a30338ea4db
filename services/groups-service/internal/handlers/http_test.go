package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/md-rashed-zaman/groupchat/libs/httpx"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/group"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/service"
)

type fakeGroups struct {
	err      error
	created  service.CreateGroup
	password string
}

func (f *fakeGroups) CreateGroup(_ context.Context, in service.CreateGroup) (*group.Group, error) {
	f.created = in
	if f.err != nil {
		return nil, f.err
	}
	return &group.Group{ID: uuid.New(), Name: in.Name, OwnerID: in.OwnerID}, nil
}

func (f *fakeGroups) JoinGroup(_ context.Context, _, _ uuid.UUID, password string) error {
	f.password = password
	return f.err
}

func (f *fakeGroups) LeaveGroup(context.Context, uuid.UUID, uuid.UUID) error  { return f.err }
func (f *fakeGroups) DeleteGroup(context.Context, uuid.UUID, uuid.UUID) error { return f.err }

func serve(groups Groups, method, path, body string, user uuid.UUID) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	New(groups, runtime.NopLogger()).Register(mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != uuid.Nil {
		req.Header.Set(httpx.UserIDHeader, user.String())
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateUsesCallerAsOwner(t *testing.T) {
	groups := &fakeGroups{}
	user := uuid.New()

	rec := serve(groups, http.MethodPost, "/v1/groups", `{"name":"gophers"}`, user)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, user, groups.created.OwnerID)
	assert.Contains(t, rec.Body.String(), `"name":"gophers"`)
}

func TestRequiresUserHeader(t *testing.T) {
	rec := serve(&fakeGroups{}, http.MethodPost, "/v1/groups", `{"name":"gophers"}`, uuid.Nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJoinWithoutBody(t *testing.T) {
	groups := &fakeGroups{}
	rec := serve(groups, http.MethodPost, "/v1/groups/"+uuid.NewString()+"/members", "", uuid.New())
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(groups, http.MethodPost, "/v1/groups/"+uuid.NewString()+"/members", `{"password":"pw"}`, uuid.New())
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "pw", groups.password)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: name is required", group.ErrInvalid), http.StatusBadRequest},
		{group.ErrNotFound, http.StatusNotFound},
		{group.ErrNotOwner, http.StatusForbidden},
		{group.ErrWrongPassword, http.StatusForbidden},
		{group.ErrAlreadyMember, http.StatusConflict},
		{group.ErrOwnerCannotLeave, http.StatusConflict},
		{fmt.Errorf("%w: insert", outbox.ErrDurability), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := serve(&fakeGroups{err: tc.err}, http.MethodDelete, "/v1/groups/"+uuid.NewString(), "", uuid.New())
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestBadGroupID(t *testing.T) {
	rec := serve(&fakeGroups{}, http.MethodDelete, "/v1/groups/not-a-uuid/members/me", "", uuid.New())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
