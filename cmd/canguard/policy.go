package main

import (
	"fmt"
	"sort"

	"github.com/notnil/canguard/safety"
	"github.com/notnil/canguard/safety/nissan"
)

var policies = map[string]func() safety.Hooks{
	"silent": func() safety.Hooks { return safety.NoOutput{} },
	"nissan": func() safety.Hooks { return nissan.New() },
}

func newPolicy(mode string) (safety.Hooks, error) {
	mk, ok := policies[mode]
	if !ok {
		return nil, fmt.Errorf("unknown safety mode %q (have %v)", mode, policyNames())
	}
	return mk(), nil
}

func policyNames() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
