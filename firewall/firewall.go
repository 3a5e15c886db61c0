//go:generate mockgen -source=$GOFILE -destination=mock/$GOFILE -package=mock

// Package firewall installs kernel-level connection rate rules in front of
// the listener. It is an optional outer layer; the in-process engine works
// without it.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/coreos/go-iptables/iptables"
)

var ErrProvisionFailed = errors.New("firewall provisioning failed")

const (
	table = "filter"
	chain = "INPUT"
)

// Provisioner installs rules protecting a TCP port.
type Provisioner interface {
	Provision(ctx context.Context, port int) error
}

// RuleAppender is the part of *iptables.IPTables used here.
type RuleAppender interface {
	AppendUnique(table, chain string, rulespec ...string) error
}

// Rules returns the rule specs for port: mark every new connection in the
// recent list, then drop a source's packets once it opened 10 connections in
// 60 seconds.
func Rules(port int) [][]string {
	p := strconv.Itoa(port)
	return [][]string{
		{"-p", "tcp", "--dport", p, "-m", "state", "--state", "NEW", "-m", "recent", "--set"},
		{"-p", "tcp", "--dport", p, "-m", "recent", "--update", "--seconds", "60", "--hitcount", "10", "-j", "DROP"},
	}
}

// IPTables appends Rules to filter/INPUT.
type IPTables struct {
	rules RuleAppender
}

// NewIPTables connects to the system iptables binary.
func NewIPTables() (*IPTables, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, errors.Join(ErrProvisionFailed, err)
	}
	return &IPTables{rules: ipt}, nil
}

func NewIPTablesWith(r RuleAppender) *IPTables {
	return &IPTables{rules: r}
}

func (t *IPTables) Provision(ctx context.Context, port int) error {
	for _, rule := range Rules(port) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.rules.AppendUnique(table, chain, rule...); err != nil {
			return fmt.Errorf("append %s/%s rule: %w", table, chain, errors.Join(ErrProvisionFailed, err))
		}
	}
	return nil
}

// Noop installs nothing.
type Noop struct{}

func (Noop) Provision(context.Context, int) error { return nil }

// Setup runs p for port and logs the outcome. A failure never stops the
// caller.
func Setup(ctx context.Context, p Provisioner, port int, log *slog.Logger) {
	if err := p.Provision(ctx, port); err != nil {
		log.Error("firewall rules not installed", "port", port, "error", err)
		return
	}
	log.Info("firewall rules installed", "port", port)
}
