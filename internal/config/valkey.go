package config

import (
	"fmt"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"
)

// MakeValKeyOptions resolves the secret references of conf into client options.
func MakeValKeyOptions(conf ValKey) (valkey.ClientOption, error) {
	host, err := commoncfg.LoadValueFromSourceRef(conf.Host)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("loading valkey host: %w", err)
	}

	user, err := commoncfg.LoadValueFromSourceRef(conf.User)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("loading valkey user: %w", err)
	}

	password, err := commoncfg.LoadValueFromSourceRef(conf.Password)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("loading valkey password: %w", err)
	}

	return valkey.ClientOption{
		InitAddress: []string{string(host)},
		Username:    string(user),
		Password:    string(password),
	}, nil
}
