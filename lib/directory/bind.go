// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// BindStatus is the outcome class of an authentication bind.
type BindStatus int

const (
	// BindSuccess means the credentials were accepted.
	BindSuccess BindStatus = iota
	// BindInvalidCredentials means the server rejected the password.
	BindInvalidCredentials
	// BindRejected means the server refused the bind for another
	// reason (account disabled, unwilling to perform, and so on).
	BindRejected
)

// PolicyError is a password-policy error code from the Behera draft.
type PolicyError int

const (
	PolicyNone PolicyError = iota - 1
	PolicyPasswordExpired
	PolicyAccountLocked
	PolicyChangeAfterReset
	PolicyPasswordModNotAllowed
	PolicyMustSupplyOldPassword
	PolicyInsufficientPasswordQuality
	PolicyPasswordTooShort
	PolicyPasswordTooYoung
	PolicyPasswordInHistory
)

// PasswordPolicy is the decoded password-policy response control.
type PasswordPolicy struct {
	// Error is PolicyNone when the server reported no error.
	Error PolicyError
	// Expire is the number of seconds until the password expires, or
	// -1 when not reported.
	Expire int64
	// Grace is the number of remaining grace logins, or -1 when not
	// reported.
	Grace int64
}

// BindResult describes an authentication bind.
type BindResult struct {
	Status BindStatus
	// Message is the server's diagnostic text, if any.
	Message string
	// Policy is set when the server returned a password-policy
	// control.
	Policy *PasswordPolicy
}

// Authenticate implements Session. It binds on a dedicated connection
// so the lookup connection keeps its own identity.
func (c *Conn) Authenticate(ctx context.Context, dn, password string) (BindResult, error) {
	if err := ctx.Err(); err != nil {
		return BindResult{}, err
	}
	if password == "" {
		// An empty password is an unauthenticated bind, which most
		// servers accept. Never treat it as a successful login.
		return BindResult{Status: BindInvalidCredentials, Message: "empty password"}, nil
	}

	var failures []error
	for _, uri := range c.config.URIs {
		client, err := c.dial(uri)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", uri, err))
			continue
		}
		result, err := bindWithPolicy(client, dn, password)
		client.Close()
		if err != nil && IsConnectivity(err) {
			failures = append(failures, fmt.Errorf("%s: %w", uri, err))
			continue
		}
		return result, nil
	}
	return BindResult{}, fmt.Errorf("%w: authenticating %s: %w", ErrUnavailable, dn, errors.Join(failures...))
}

// bindWithPolicy binds with the password-policy request control and
// classifies the outcome. The returned error is non-nil only for
// connectivity failures.
func bindWithPolicy(client Client, dn, password string) (BindResult, error) {
	response, err := client.SimpleBind(&ldap.SimpleBindRequest{
		Username: dn,
		Password: password,
		Controls: []ldap.Control{ldap.NewControlBeheraPasswordPolicy()},
	})

	var result BindResult
	if response != nil {
		result.Policy = policyFrom(response.Controls)
	}

	if err == nil {
		result.Status = BindSuccess
		return result, nil
	}
	if IsConnectivity(err) {
		return BindResult{}, err
	}

	var ldapError *ldap.Error
	if errors.As(err, &ldapError) && ldapError.Err != nil {
		result.Message = ldapError.Err.Error()
	} else {
		result.Message = err.Error()
	}
	if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
		result.Status = BindInvalidCredentials
	} else {
		result.Status = BindRejected
	}
	return result, nil
}

func policyFrom(controls []ldap.Control) *PasswordPolicy {
	control := ldap.FindControl(controls, ldap.ControlTypeBeheraPasswordPolicy)
	if control == nil {
		return nil
	}
	behera, ok := control.(*ldap.ControlBeheraPasswordPolicy)
	if !ok {
		return nil
	}
	return &PasswordPolicy{
		Error:  PolicyError(behera.Error),
		Expire: behera.Expire,
		Grace:  behera.Grace,
	}
}
