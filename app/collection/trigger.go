package collection

// Trigger identifies what initiated a collection attempt.
type Trigger string

const (
	TriggerDailyJob            Trigger = "daily-job"
	TriggerBankAccountUpdate   Trigger = "bank-account-update"
	TriggerPredictedPayday     Trigger = "predicted-payday"
	TriggerAdminScript         Trigger = "admin-script"
	TriggerUserBankConnected   Trigger = "user-bank-connected"
	TriggerRecentPastDueUpdate Trigger = "recent-past-due-update"
	TriggerUserBalanceRefresh  Trigger = "user-balance-refresh"
)

func (t Trigger) Valid() bool {
	switch t {
	case TriggerDailyJob,
		TriggerBankAccountUpdate,
		TriggerPredictedPayday,
		TriggerAdminScript,
		TriggerUserBankConnected,
		TriggerRecentPastDueUpdate,
		TriggerUserBalanceRefresh:
		return true
	default:
		return false
	}
}

// HighRisk triggers fire right after a bank connection or balance changed;
// a debit failure under them is more likely to mean the account genuinely
// cannot cover the charge, so second-rail escalation is gated harder.
func (t Trigger) HighRisk() bool {
	switch t {
	case TriggerBankAccountUpdate, TriggerRecentPastDueUpdate, TriggerUserBalanceRefresh:
		return true
	default:
		return false
	}
}

// forceACH triggers may charge the bank account directly when the balance
// is comfortably high.
func (t Trigger) forceACH() bool {
	return t == TriggerDailyJob || t == TriggerUserBankConnected
}
