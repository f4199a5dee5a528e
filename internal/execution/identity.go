package execution

import (
	"encoding/json"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// ComputeExecutionID hashes every result field except the identity fields
// themselves. encoding/json marshals struct fields in declaration order and
// sorts map keys, so the serialization is stable.
func ComputeExecutionID(res *world.ExecutionResult) string {
	stripped := *res
	stripped.ExecutionID = ""
	stripped.ResultID = ""
	raw, _ := json.Marshal(&stripped)
	return "result_" + world.HashBytes(raw)
}

// SealResult stamps the computed identity onto the result.
func SealResult(res *world.ExecutionResult) {
	id := ComputeExecutionID(res)
	res.ExecutionID = id
	res.ResultID = id
}

// IsValidExecutionResult recomputes the identity and verifies it.
func IsValidExecutionResult(res *world.ExecutionResult) bool {
	if res.ExecutionID == "" || res.ExecutionID != res.ResultID {
		return false
	}
	return ComputeExecutionID(res) == res.ExecutionID
}
