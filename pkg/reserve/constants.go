package reserve

const (
	operationPlace      = "place"
	operationCancel     = "cancel"
	operationTransition = "transition"
	operationDeliver    = "deliver"
	operationOpen       = "open_payment"
	operationVerify     = "verify_payment"
	operationReverse    = "reverse_payment"

	auditActionReservationExpired = "reservation_expired"
	auditActionReservationRevived = "reservation_reactivated"
	auditActionCapacityShortfall  = "capacity_shortfall_on_reactivation"

	deliveryCodeRandomDigits = 100
)
