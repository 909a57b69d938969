package main

import (
	"context"
	"fmt"
	"io"

	"coinsafe/pkg/config"
	"coinsafe/pkg/models"
	"coinsafe/pkg/rpc"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// chainIDFunc reads the chain id served by an RPC URL.
type chainIDFunc func(ctx context.Context, rpcURL string) (int64, error)

// runCheck validates cfg, pings the backend, queries every EVM RPC and fills missing
// chain ids. The config is saved when ids were learned, unless dryRun is set.
// Progress is written to out when it is non-nil.
func runCheck(ctx context.Context, cfg *config.Config, path string, backend pinger, chainID chainIDFunc, dryRun bool, out io.Writer) (models.CheckReport, bool) {
	say := func(format string, args ...any) {
		if out != nil {
			_, _ = fmt.Fprintf(out, format, args...)
		}
	}
	if chainID == nil {
		chainID = rpc.FetchChainID
	}

	report := models.CheckReport{
		ConfigPath:     path,
		ValidStructure: true,
		BackendURL:     cfg.BackendURL,
		DryRun:         dryRun,
	}
	say("Testing configuration at: %s\n", path)

	if err := cfg.Validate(); err != nil {
		report.ValidStructure = false
		report.StructureErrors = append(report.StructureErrors, err.Error())
		say("Error: %v\n", err)
		return report, false
	}
	for _, n := range cfg.Networks {
		if n.AddressFormat == config.AddressFormatEVM && len(n.RPCURLs) == 0 {
			msg := fmt.Sprintf("Network '%s' has no RPC URLs.", n.Name)
			report.ValidStructure = false
			report.StructureErrors = append(report.StructureErrors, msg)
			say("Error: %s\n", msg)
		}
	}
	if !report.ValidStructure {
		return report, false
	}
	say("Found %d networks, active: %s\n", len(cfg.Networks), cfg.Network)

	say("Backend: %s ... ", cfg.BackendURL)
	if err := backend.Ping(ctx); err != nil {
		report.BackendError = err.Error()
		say("Failed: %v\n", err)
	} else {
		report.BackendOK = true
		say("OK\n")
	}

	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		if n.AddressFormat != config.AddressFormatEVM {
			continue
		}
		nc := checkNetwork(ctx, n, chainID, say)
		if nc.ChainIDUpdated {
			report.ConfigUpdated = true
		}
		report.Networks = append(report.Networks, nc)
	}

	if report.ConfigUpdated {
		say("\nUpdating configuration with fetched Chain IDs...\n")
		if dryRun {
			say("Dry run enabled: Configuration NOT saved.\n")
		} else if err := config.SaveConfig(cfg, path); err != nil {
			report.SaveError = err.Error()
			say("Failed to save config: %v\n", err)
		} else {
			say("Configuration saved successfully.\n")
		}
	}
	report.Failures = checkFailures(report)
	for _, f := range report.Failures {
		say("FAIL: %s\n", f)
	}
	return report, len(report.Failures) == 0
}

// checkFailures lists what makes a check fail. A dead RPC URL is tolerated while
// another URL of the same network answers with the expected chain id.
func checkFailures(report models.CheckReport) []string {
	var failures []string
	if !report.BackendOK {
		failures = append(failures, fmt.Sprintf("backend %s unreachable", report.BackendURL))
	}
	for _, nc := range report.Networks {
		if nc.ObservedChainID == 0 {
			failures = append(failures, fmt.Sprintf("network %s: no RPC answered", nc.Name))
		}
		if nc.Inconsistent {
			failures = append(failures, fmt.Sprintf("network %s: RPCs disagree on the chain id", nc.Name))
		}
		for _, rc := range nc.RPCs {
			if rc.Status == "ok" && rc.Error != "" {
				failures = append(failures, fmt.Sprintf("network %s: %s %s", nc.Name, rc.URL, rc.Error))
			}
		}
	}
	if report.SaveError != "" {
		failures = append(failures, "save config: "+report.SaveError)
	}
	return failures
}

func checkNetwork(ctx context.Context, n *config.NetworkConfig, chainID chainIDFunc, say func(string, ...any)) models.NetworkCheck {
	nc := models.NetworkCheck{Name: n.Name, ConfigChainID: n.ChainID}
	say("Testing Network: %s\n", n.Name)

	var observed int64
	for _, url := range n.RPCURLs {
		rc := models.RPCCheck{URL: url}
		say("  RPC: %s ... ", url)

		id, err := chainID(ctx, url)
		if err != nil {
			rc.Status = "error"
			rc.Error = err.Error()
			say("Failed: %v\n", err)
			nc.RPCs = append(nc.RPCs, rc)
			continue
		}
		rc.Status = "ok"
		rc.ChainID = id
		say("OK (ChainID: %d)", id)

		if observed == 0 {
			observed = id
			nc.ObservedChainID = id
		} else if observed != id {
			say(" - WARNING: ChainID mismatch with previous RPC (%d)", observed)
			nc.Inconsistent = true
		}

		switch {
		case n.ChainID == 0:
			n.ChainID = id
			nc.ChainIDUpdated = true
			say(" - UPDATED CONFIG")
		case n.ChainID != id:
			rc.Error = fmt.Sprintf("Mismatch! Expected %d", n.ChainID)
			say(" - MISMATCH! Expected %d", n.ChainID)
		default:
			say(" - Verified")
		}
		say("\n")
		nc.RPCs = append(nc.RPCs, rc)
	}
	return nc
}
