// Package contracts holds the ABI for the deployed escrow contract.
package contracts

// ConditionalUPIABI is the application binary interface of the ConditionalUPI
// escrow contract. It must stay in sync with the deployed bytecode; the
// deployment descriptor only carries the address.
const ConditionalUPIABI = `[
  {
    "type": "function",
    "name": "createCondition",
    "stateMutability": "payable",
    "inputs": [
      {"name": "payee", "type": "address"},
      {"name": "deadline", "type": "uint256"},
      {"name": "metadataURI", "type": "string"}
    ],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "triggerCondition",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "conditionId", "type": "uint256"},
      {"name": "proofHash", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "refundCondition",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "conditionId", "type": "uint256"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getCondition",
    "stateMutability": "view",
    "inputs": [{"name": "conditionId", "type": "uint256"}],
    "outputs": [
      {
        "name": "",
        "type": "tuple",
        "components": [
          {"name": "id", "type": "uint256"},
          {"name": "payer", "type": "address"},
          {"name": "payee", "type": "address"},
          {"name": "amount", "type": "uint256"},
          {"name": "deadline", "type": "uint256"},
          {"name": "metadataURI", "type": "string"},
          {"name": "executed", "type": "bool"},
          {"name": "refunded", "type": "bool"},
          {"name": "createdAt", "type": "uint256"}
        ]
      }
    ]
  },
  {
    "type": "function",
    "name": "canTrigger",
    "stateMutability": "view",
    "inputs": [{"name": "conditionId", "type": "uint256"}],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "canRefund",
    "stateMutability": "view",
    "inputs": [{"name": "conditionId", "type": "uint256"}],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "getConditionCount",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "addRelayer",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "relayer", "type": "address"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "removeRelayer",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "relayer", "type": "address"}],
    "outputs": []
  },
  {
    "type": "event",
    "name": "ConditionCreated",
    "inputs": [
      {"name": "id", "type": "uint256", "indexed": true},
      {"name": "payer", "type": "address", "indexed": true},
      {"name": "payee", "type": "address", "indexed": true},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "deadline", "type": "uint256", "indexed": false},
      {"name": "metadataURI", "type": "string", "indexed": false}
    ],
    "anonymous": false
  },
  {
    "type": "event",
    "name": "ConditionTriggered",
    "inputs": [
      {"name": "id", "type": "uint256", "indexed": true},
      {"name": "relayer", "type": "address", "indexed": true},
      {"name": "proofHash", "type": "bytes32", "indexed": false}
    ],
    "anonymous": false
  },
  {
    "type": "event",
    "name": "ConditionRefunded",
    "inputs": [
      {"name": "id", "type": "uint256", "indexed": true},
      {"name": "payer", "type": "address", "indexed": true}
    ],
    "anonymous": false
  },
  {
    "type": "event",
    "name": "RelayerAdded",
    "inputs": [{"name": "relayer", "type": "address", "indexed": false}],
    "anonymous": false
  },
  {
    "type": "event",
    "name": "RelayerRemoved",
    "inputs": [{"name": "relayer", "type": "address", "indexed": false}],
    "anonymous": false
  }
]`
