// Package budget arbitrates how a user spends a fixed vote budget across
// feature requests.
//
// Every user owns model.TotalVotes units. A Manager decides whether a
// proposed allocation fits into the remaining units and applies it, or
// parks it as a pending proposal until the user withdraws enough of their
// existing votes:
//
//	IDLE --ProposeAllocation(delta > remaining)--> WITHDRAWAL_PENDING
//	WITHDRAWAL_PENDING --ConfirmWithdrawal--> IDLE (allocation applied)
//	WITHDRAWAL_PENDING --CancelWithdrawal--> IDLE
//	IDLE --ProposeAllocation(delta <= remaining)--> IDLE (allocation applied)
//
// Remaining votes are never accumulated locally. After each mutation the
// Manager re-reads the aggregate from the Backend.
package budget
