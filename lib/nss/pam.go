// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/dircache/lib/directory"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// PAMResult is the response to an authentication request.
type PAMResult struct {
	// Username is the canonical account name.
	Username string
	DN       string
	Authc    protocol.PAMStatus
	Authz    protocol.PAMStatus
	Message  string
}

func (p PAMResult) Write(w *wire.Writer) {
	begin(w)
	w.String(p.Username)
	w.String(p.DN)
	w.Int32(int32(p.Authc))
	w.Int32(int32(p.Authz))
	w.String(p.Message)
}

// errStopLookup ends a search after its first result.
var errStopLookup = errors.New("stop")

func (r *Registry) addPAMAuthc() {
	passwd := r.kinds["passwd"]
	r.handlers[protocol.ActionPAMAuthc] = &Handler{
		Action:  protocol.ActionPAMAuthc,
		options: r.options,
		read: func(reader *wire.Reader) (Query, error) {
			values := map[string]string{
				"username": reader.String(),
				"dn":       reader.String(),
				"service":  reader.String(),
				"password": reader.String(),
			}
			return Query{values: values}, nil
		},
		lookup: func(ctx context.Context, env *Env, query Query, emit func(Record) error) error {
			return emit(authenticate(ctx, env, passwd, query.values))
		},
	}
}

// authenticate resolves the user's DN through the passwd kind and binds
// as that DN. The DN supplied by the client is ignored: the account is
// always the one the directory maps the username to.
func authenticate(ctx context.Context, env *Env, passwd *Kind, values map[string]string) PAMResult {
	username := values["username"]
	result := PAMResult{Username: username, DN: values["dn"]}
	logger := env.Logger.With("username", username, "service", values["service"])

	if !ValidName(username) {
		logger.Info("authentication refused: invalid username")
		result.Authc, result.Authz, result.Message = protocol.PAMUserUnknown, protocol.PAMUserUnknown, "invalid username"
		return result
	}

	var account *search.Result
	err := search.Run(ctx, env.Session, passwd.Definition, search.Query{
		Parameters: search.Parameters{"uid": username},
	}, env.Logger, func(found search.Result) error {
		account = &found
		return errStopLookup
	})
	if err != nil && !errors.Is(err, errStopLookup) {
		logger.Warn("user lookup for authentication failed", "error", err)
		result.Authc, result.Authz, result.Message = protocol.PAMAuthInfoUnavail, protocol.PAMAuthInfoUnavail, "directory unavailable"
		return result
	}
	if account == nil {
		logger.Info("authentication refused: unknown user")
		result.Authc, result.Authz, result.Message = protocol.PAMUserUnknown, protocol.PAMUserUnknown, "unknown username"
		return result
	}

	result.DN = account.DN
	if canonical, ok := passwd.Definition.Map.RDNValue(account.DN, "uid"); ok && canonical != "" && canonical != username {
		logger.Info("username canonicalized", "canonical", canonical)
		result.Username = canonical
	}

	bind, err := env.Session.Authenticate(ctx, account.DN, values["password"])
	if err != nil {
		logger.Warn("authentication bind failed", "dn", account.DN, "error", err)
		result.Authc, result.Authz, result.Message = protocol.PAMAuthInfoUnavail, protocol.PAMAuthInfoUnavail, "directory unavailable"
		return result
	}
	result.Authc, result.Authz, result.Message = bindOutcome(bind)
	logger.Info("authentication",
		"dn", account.DN,
		"authc", result.Authc.String(),
		"authz", result.Authz.String(),
	)
	return result
}

// bindOutcome maps a bind result and its password-policy control to
// PAM codes and a message for the user.
func bindOutcome(bind directory.BindResult) (authc, authz protocol.PAMStatus, message string) {
	policy := bind.Policy
	if policy == nil {
		policy = &directory.PasswordPolicy{Error: directory.PolicyNone, Expire: -1, Grace: -1}
	}

	switch bind.Status {
	case directory.BindSuccess:
		switch {
		case policy.Error == directory.PolicyChangeAfterReset:
			return protocol.PAMSuccess, protocol.PAMNewAuthtokReqd, "Password change required after reset"
		case policy.Error == directory.PolicyPasswordExpired:
			return protocol.PAMSuccess, protocol.PAMNewAuthtokReqd, "Password expired"
		case policy.Grace >= 0:
			return protocol.PAMSuccess, protocol.PAMSuccess, fmt.Sprintf("Password expired, %d grace logins remaining", policy.Grace)
		case policy.Expire > 0:
			return protocol.PAMSuccess, protocol.PAMSuccess, fmt.Sprintf("Password will expire in %d seconds", policy.Expire)
		}
		return protocol.PAMSuccess, protocol.PAMSuccess, ""
	case directory.BindInvalidCredentials:
		switch policy.Error {
		case directory.PolicyAccountLocked:
			return protocol.PAMPermDenied, protocol.PAMPermDenied, "Account is locked"
		case directory.PolicyPasswordExpired:
			return protocol.PAMAuthtokExpired, protocol.PAMAuthtokExpired, "Password expired"
		}
		return protocol.PAMAuthErr, protocol.PAMAuthErr, bind.Message
	}
	return protocol.PAMAuthErr, protocol.PAMAuthErr, bind.Message
}
