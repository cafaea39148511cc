// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"context"
	"strconv"

	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// ConfigValue answers a configuration query.
type ConfigValue struct {
	Value string
}

func (c ConfigValue) Write(w *wire.Writer) {
	begin(w)
	w.String(c.Value)
}

func (r *Registry) addConfigGet() {
	r.handlers[protocol.ActionConfigGet] = &Handler{
		Action:  protocol.ActionConfigGet,
		options: r.options,
		read: func(reader *wire.Reader) (Query, error) {
			option := reader.Int32()
			return Query{values: map[string]string{"option": strconv.Itoa(int(option))}}, nil
		},
		lookup: func(ctx context.Context, env *Env, query Query, emit func(Record) error) error {
			option, _ := strconv.Atoi(query.values["option"])
			switch int32(option) {
			case protocol.ConfigPAMPasswordProhibitMessage:
				return emit(ConfigValue{Value: r.options.PasswordProhibitMessage})
			}
			env.Logger.Debug("unknown configuration option requested", "option", option)
			return nil
		},
	}
}
