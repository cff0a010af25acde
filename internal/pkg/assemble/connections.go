package assemble

import (
	"log"
	"sort"
)

// ConnectionReport lists the topology elements left unreachable from the
// slack bus over in-service lines.
type ConnectionReport struct {
	SlackBus          string
	DisconnectedBuses []string
	IsolatedSupplyMW  float64
	IsolatedDemandMW  float64
	SlackReassignedTo string
}

// CheckConnections walks the topology from the slack bus and reports
// everything a power-flow solve would not see. When the slack bus itself is
// disconnected from all generation, the bus holding the largest connected
// injection capacity takes over as slack.
func (an *AugmentedNetwork) CheckConnections(slackBus string) ConnectionReport {
	report := ConnectionReport{SlackBus: slackBus}
	reachable := an.Network.ConnectedFrom(slackBus)

	for _, b := range an.Network.Buses() {
		if reachable[b.ID] {
			continue
		}
		report.DisconnectedBuses = append(report.DisconnectedBuses, b.ID)
		report.IsolatedSupplyMW += an.InjectionAt(b.ID)
		report.IsolatedDemandMW += an.WithdrawalAt(b.ID, 0)
	}
	sort.Strings(report.DisconnectedBuses)

	if an.InjectionAt(slackBus) == 0 && report.IsolatedSupplyMW > 0 {
		report.SlackReassignedTo = an.largestConnectedSupplier(reachable)
		if report.SlackReassignedTo != "" {
			log.Printf("[NetworkAssembler] slack bus %s carries no generation, reassigned to %s\n",
				slackBus, report.SlackReassignedTo)
		}
	}
	return report
}

// largestConnectedSupplier returns the reachable bus with the largest
// injection capacity, ties broken by identifier.
func (an *AugmentedNetwork) largestConnectedSupplier(reachable map[string]bool) string {
	best := ""
	bestMW := 0.0
	for _, b := range an.Network.Buses() {
		if !reachable[b.ID] {
			continue
		}
		if mw := an.InjectionAt(b.ID); mw > bestMW {
			best = b.ID
			bestMW = mw
		}
	}
	return best
}
