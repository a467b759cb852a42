package proxmox

import (
	"context"
	"fmt"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
)

const msgCreateClient = "An internal error occurred and the client account could not be created."

// AccountID is the hypervisor account owning every server of a client.
func AccountID(clientID string) string {
	return "vmuser" + clientID
}

// ensureAccount gets or creates the account of clientID. The generated
// password is returned only when the account was created by this call.
//
// The create call returns no body to confirm, so the account counts as
// created when a second existence check succeeds.
func (p *Provider) ensureAccount(ctx context.Context, c *pveapi.Client, clientID string) (string, string, error) {
	userid := AccountID(clientID)
	log := p.log.WithValues("userid", userid)

	check := c.Accounts().CheckExists(ctx, userid)
	if check.Transport() != nil {
		return userid, "", provider.APIFailure(check.Err())
	}
	if check.OK() {
		log.V(1).Info("account already exists")
		return userid, "", nil
	}

	var cust provider.Customer
	if p.customers != nil {
		var err error
		if cust, err = p.customers.Customer(ctx, clientID); err != nil {
			log.Error(err, "customer profile unavailable, creating account without it")
			cust = provider.Customer{}
		}
	}

	password, err := p.passwords()
	if err != nil {
		return userid, "", provider.APIFailure(fmt.Errorf("generate account password: %w", err))
	}

	created := c.Accounts().Create(ctx, pveapi.Account{
		UserID:    userid,
		Password:  password,
		Email:     cust.Email,
		FirstName: cust.FirstName,
		LastName:  cust.LastName,
	})
	if created.Transport() != nil {
		return userid, "", provider.APIFailure(created.Err())
	}

	if !c.Accounts().CheckExists(ctx, userid).OK() {
		return userid, "", &provider.Error{Key: provider.KeyCreateClient, Message: msgCreateClient, Err: created.Err()}
	}
	log.Info("created hypervisor account")
	return userid, password, nil
}
