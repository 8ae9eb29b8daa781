/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package x

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type SubCommand struct {
	Cmd  *cobra.Command
	Conf *viper.Viper

	EnvPrefix string
}

func (s SubCommand) GetStringP(name, shorthand, def string) string {
	if ok := s.Conf.IsSet(name); ok {
		return s.Conf.GetString(name)
	}
	if ok := s.Conf.IsSet(shorthand); ok {
		return s.Conf.GetString(shorthand)
	}
	return def
}

func (s SubCommand) GetStringSliceP(name, shorthand string, def []string) []string {
	if ok := s.Conf.IsSet(name); ok {
		return s.Conf.GetStringSlice(name)
	}
	if ok := s.Conf.IsSet(shorthand); ok {
		return s.Conf.GetStringSlice(shorthand)
	}
	return def
}

func (s SubCommand) GetDurationP(name, shorthand string, def time.Duration) time.Duration {
	if ok := s.Conf.IsSet(name); ok {
		return s.Conf.GetDuration(name)
	}
	if ok := s.Conf.IsSet(shorthand); ok {
		return s.Conf.GetDuration(shorthand)
	}
	return def
}

func (s SubCommand) GetBoolP(name, shorthand string, def bool) bool {
	if ok := s.Conf.IsSet(name); ok {
		return s.Conf.GetBool(name)
	}
	if ok := s.Conf.IsSet(shorthand); ok {
		return s.Conf.GetBool(shorthand)
	}
	return def
}
