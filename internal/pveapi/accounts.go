package pveapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Realm is the authentication realm provisioned accounts live in.
const Realm = "pve"

// VMUserRole is the role granted to an account on its own guest.
const VMUserRole = "PVEVMUser"

// Account carries the fields sent when creating a hypervisor user.
type Account struct {
	UserID    string
	Password  string
	Email     string
	FirstName string
	LastName  string
}

// Accounts groups the access/users commands.
type Accounts struct {
	c *Client
}

func (c *Client) Accounts() Accounts { return Accounts{c: c} }

// QualifiedUserID appends the realm unless the id already names one.
func QualifiedUserID(userid string) string {
	if strings.Contains(userid, "@") {
		return userid
	}
	return userid + "@" + Realm
}

// CheckExists fetches the account; a successful response means it exists.
func (a Accounts) CheckExists(ctx context.Context, userid string) *Response {
	return a.c.Submit(ctx, Request{
		Action: "client-checkexists",
		Path:   "access/users/" + QualifiedUserID(userid),
	})
}

func (a Accounts) Create(ctx context.Context, acct Account) *Response {
	params := url.Values{
		"userid":   {QualifiedUserID(acct.UserID)},
		"password": {acct.Password},
	}
	setIf(params, "email", acct.Email)
	setIf(params, "firstname", acct.FirstName)
	setIf(params, "lastname", acct.LastName)

	return a.c.Submit(ctx, Request{
		Action: "client-create",
		Method: http.MethodPost,
		Path:   "access/users",
		Params: params,
	})
}

func (a Accounts) Delete(ctx context.Context, userid string) *Response {
	return a.c.Submit(ctx, Request{
		Action: "client-delete",
		Method: http.MethodDelete,
		Path:   "access/users/" + QualifiedUserID(userid),
	})
}

func (a Accounts) List(ctx context.Context) *Response {
	return a.c.Submit(ctx, Request{Action: "client-list", Path: "access/users"})
}

// Users decodes the account listing.
func (a Accounts) Users(ctx context.Context) ([]User, error) {
	var out []User
	if err := a.List(ctx).Decode(&out); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

func (a Accounts) UpdatePassword(ctx context.Context, userid, password string) *Response {
	return a.c.Submit(ctx, Request{
		Action: "client-password",
		Method: http.MethodPut,
		Path:   "access/password",
		Params: url.Values{
			"userid":   {QualifiedUserID(userid)},
			"password": {password},
		},
	})
}

// GrantVM binds role to the account on /vms/{vmid}.
func (a Accounts) GrantVM(ctx context.Context, userid string, vmid int, role string) *Response {
	return a.c.Submit(ctx, Request{
		Action: "vserver-acl",
		Method: http.MethodPut,
		Path:   "access/acl",
		Params: url.Values{
			"users": {QualifiedUserID(userid)},
			"path":  {"/vms/" + strconv.Itoa(vmid)},
			"roles": {role},
		},
	})
}

func setIf(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}
