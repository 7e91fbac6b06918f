package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// OpportunityMessage renders an opportunity alert.
func OpportunityMessage(opp domain.ArbitrageOpportunity) (title, message string) {
	title = fmt.Sprintf("%s opportunity %s", opp.Confidence, opp.Pair())
	var b strings.Builder
	fmt.Fprintf(&b, "Buy on %s at %.6f\n", opp.BuySide.Venue, opp.BuySide.Price)
	fmt.Fprintf(&b, "Sell on %s at %.6f\n", opp.SellSide.Venue, opp.SellSide.Price)
	fmt.Fprintf(&b, "Profit $%.2f (%.2f%%) on $%.0f", opp.ProfitUSD, opp.ProfitPercent, opp.Volume)
	if opp.Synthetic {
		b.WriteString("\n(synthetic data)")
	}
	return title, b.String()
}

// ExecutionMessage renders an execution result and the event it belongs to.
func ExecutionMessage(exec domain.Execution) (event, title, message string) {
	if exec.Status == domain.ExecutionConfirmed {
		return EventExecutionConfirmed,
			fmt.Sprintf("Executed %s", exec.Pair),
			fmt.Sprintf("Signature %s\nExpected profit $%.2f (floor $%.2f)", exec.Signature, exec.ProfitUSD, exec.MinProfitUSD)
	}
	return EventExecutionFailed,
		fmt.Sprintf("Execution failed %s", exec.Pair),
		fmt.Sprintf("Error: %s", exec.Error)
}
