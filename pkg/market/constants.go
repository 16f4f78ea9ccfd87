package market

import "time"

const (
	operationPlaceBid     = "place_bid"
	operationCloseAuction = "close_auction"
	operationReserve      = "reserve"

	// Operation statuses carried by OperationLog.Status.
	OperationStatusOK       = "ok"
	OperationStatusRejected = "rejected"
	OperationStatusError    = "error"
	OperationStatusOrphaned = "orphaned"

	// MaxHorizonDays bounds a single rule expansion.
	MaxHorizonDays = 366

	defaultClaimTimeout = 10 * time.Second

	// OrphanedChargeMessage is shown verbatim when funds were taken without a claim.
	OrphanedChargeMessage = "Your balance was charged but the reservation could not be completed. " +
		"Do not retry. Contact support with this reference so the charge can be reviewed."
)
