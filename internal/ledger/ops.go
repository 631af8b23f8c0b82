package ledger

import "github.com/R3E-Network/vault_ledger/internal/schema"

// Op names one ledger entry point.
type Op string

const (
	OpInitialize         Op = "initialize"
	OpDeposit            Op = "deposit"
	OpWithdraw           Op = "withdraw"
	OpRequestWithdrawal  Op = "requestWithdrawal"
	OpExecuteWithdrawal  Op = "executeWithdrawal"
	OpEmergencyWithdraw  Op = "emergencyWithdraw"
	OpClaimYield         Op = "claimYield"
	OpGetUserYield       Op = "getUserYield"
	OpSetDepositFee      Op = "setDepositFee"
	OpSetYieldRate       Op = "setYieldRate"
	OpSetWithdrawalDelay Op = "setWithdrawalDelay"
	OpPauseDeposits      Op = "pauseDeposits"
	OpUnpauseDeposits    Op = "unpauseDeposits"
	OpGrantRole          Op = "grantRole"
	OpRevokeRole         Op = "revokeRole"
	OpUpgrade            Op = "upgrade"
	OpGetYieldRate       Op = "getYieldRate"
	OpGetWithdrawalDelay Op = "getWithdrawalDelay"
	OpGetWithdrawalReq   Op = "getWithdrawalRequest"
	OpIsPaused           Op = "isPaused"
)

var gen1Ops = []Op{
	OpInitialize, OpDeposit, OpWithdraw, OpSetDepositFee,
	OpGrantRole, OpRevokeRole, OpUpgrade,
}

var gen2Ops = append(append([]Op{}, gen1Ops...),
	OpClaimYield, OpGetUserYield, OpSetYieldRate, OpGetYieldRate,
	OpPauseDeposits, OpUnpauseDeposits, OpIsPaused,
)

var gen3Ops = append(without(gen2Ops, OpWithdraw),
	OpRequestWithdrawal, OpExecuteWithdrawal, OpEmergencyWithdraw,
	OpSetWithdrawalDelay, OpGetWithdrawalDelay, OpGetWithdrawalReq,
)

// handlers is the flat per-generation operation table.
var handlers = map[schema.Generation]map[Op]struct{}{
	schema.Gen1: toSet(gen1Ops),
	schema.Gen2: toSet(gen2Ops),
	schema.Gen3: toSet(gen3Ops),
}

// Supports reports whether generation g exposes op.
func Supports(g schema.Generation, op Op) bool {
	_, ok := handlers[g][op]
	return ok
}

// Operations lists the operations generation g exposes.
func Operations(g schema.Generation) []Op {
	switch g {
	case schema.Gen1:
		return append([]Op{}, gen1Ops...)
	case schema.Gen2:
		return append([]Op{}, gen2Ops...)
	case schema.Gen3:
		return append([]Op{}, gen3Ops...)
	}
	return nil
}

func toSet(ops []Op) map[Op]struct{} {
	set := make(map[Op]struct{}, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return set
}

func without(ops []Op, drop Op) []Op {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		if op != drop {
			out = append(out, op)
		}
	}
	return out
}
