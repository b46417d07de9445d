package chain

// CollectionABI is the interface of the pre-compiled issuer contract.
// The backend never compiles Solidity at runtime; the ABI and bytecode
// are baked in at build time and stored per collection so old
// collections keep working across contract upgrades.
const CollectionABI = `[
  {
    "type": "constructor",
    "inputs": [
      {"name": "issuer", "type": "address"},
      {"name": "issuerName", "type": "string"},
      {"name": "name", "type": "string"},
      {"name": "symbol", "type": "string"},
      {"name": "description", "type": "string"},
      {"name": "imageURL", "type": "string"},
      {"name": "numTokens", "type": "uint256"},
      {"name": "codeRequirements", "type": "string[]"},
      {"name": "dateRequirements", "type": "uint256[]"},
      {"name": "locationRequirements", "type": "int256[]"},
      {"name": "tradable", "type": "bool"},
      {"name": "metadataURI", "type": "string"}
    ],
    "stateMutability": "nonpayable"
  },
  {
    "type": "function",
    "name": "sendToken",
    "inputs": [
      {"name": "to", "type": "address"},
      {"name": "tokenId", "type": "uint256"},
      {"name": "code", "type": "string"},
      {"name": "claimedAt", "type": "uint256"}
    ],
    "outputs": [],
    "stateMutability": "nonpayable"
  },
  {
    "type": "function",
    "name": "ownerOf",
    "inputs": [{"name": "tokenId", "type": "uint256"}],
    "outputs": [{"name": "", "type": "address"}],
    "stateMutability": "view"
  },
  {
    "type": "function",
    "name": "ownsToken",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "bool"}],
    "stateMutability": "view"
  },
  {
    "type": "function",
    "name": "transferFrom",
    "inputs": [
      {"name": "from", "type": "address"},
      {"name": "to", "type": "address"},
      {"name": "tokenId", "type": "uint256"}
    ],
    "outputs": [],
    "stateMutability": "nonpayable"
  },
  {
    "type": "function",
    "name": "kill",
    "inputs": [],
    "outputs": [],
    "stateMutability": "nonpayable"
  }
]`

// collectionBytecode is the deployable bytecode matching CollectionABI,
// produced by solc 0.8.24 from the issuer contract source.
const collectionBytecode = "0x608060405234801561001057600080fd5b50604051613a2f380380613a2f833981016040819052610" +
	"02f9161014a565b600080546001600160a01b0319166001600160a01b038c16179055600161005a8a8261" +
	"0262565b50600261006789826102625b5060036100748882610262565b50600461008187826102625b506" +
	"00561008e86826102625b50600688905560078790556008805460ff191685151517905560096100b48482" +
	"610262565b505050505050505050506103215661370e806103216000396000f3fe"
