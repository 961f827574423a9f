package ledger

// Names of the methods of the score ledger contract.
const (
	MethodRecord    = "recordEncryptedRun"
	MethodHistory   = "fetchCipherScores"
	MethodHasData   = "hasEncryptedData"
	DefaultGasLimit = 300000
)

// ScoreLedgerABI is the ABI of the score ledger contract. The internalType
// fields carry the encrypted types the encryption builder relies on.
const ScoreLedgerABI = `[
  {
    "type": "function",
    "name": "recordEncryptedRun",
    "constant": false,
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "encryptedScore", "type": "bytes32", "internalType": "externalEuint32"},
      {"name": "inputProof", "type": "bytes", "internalType": "bytes"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "fetchCipherScores",
    "constant": true,
    "stateMutability": "view",
    "inputs": [
      {"name": "player", "type": "address", "internalType": "address"}
    ],
    "outputs": [
      {"name": "", "type": "bytes32[]", "internalType": "euint32[]"}
    ]
  },
  {
    "type": "function",
    "name": "hasEncryptedData",
    "constant": true,
    "stateMutability": "view",
    "inputs": [
      {"name": "player", "type": "address", "internalType": "address"}
    ],
    "outputs": [
      {"name": "", "type": "bool", "internalType": "bool"}
    ]
  }
]`
