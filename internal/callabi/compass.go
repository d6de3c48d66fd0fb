package callabi

// CompassABI is the subset of the remote compass contract that paloma jobs call into.
// Every payload this service emits is packed against this table.
const CompassABI = `[
  {"type":"function","name":"multiple_swap","stateMutability":"nonpayable",
   "inputs":[
     {"name":"deposit_id","type":"uint256[]"},
     {"name":"remaining_counts","type":"uint256[]"},
     {"name":"amount_out_min","type":"uint256[]"}],
   "outputs":[]},
  {"type":"function","name":"set_paloma","stateMutability":"nonpayable",
   "inputs":[],
   "outputs":[]},
  {"type":"function","name":"update_compass","stateMutability":"nonpayable",
   "inputs":[{"name":"new_compass","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"update_refund_wallet","stateMutability":"nonpayable",
   "inputs":[{"name":"new_refund_wallet","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"update_fee","stateMutability":"nonpayable",
   "inputs":[{"name":"new_fee","type":"uint256"}],
   "outputs":[]}
]`

const (
	MethodMultipleSwap       = "multiple_swap"
	MethodSetPaloma          = "set_paloma"
	MethodUpdateCompass      = "update_compass"
	MethodUpdateRefundWallet = "update_refund_wallet"
	MethodUpdateFee          = "update_fee"
)
