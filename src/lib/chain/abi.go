package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ContractABI is the slice of the NFTDiarias contract this service calls.
const ContractABI = `[
  {"type":"function","name":"isAvailable","stateMutability":"view",
   "inputs":[{"name":"imovelId","type":"uint256"},{"name":"startDate","type":"uint64"},{"name":"endDate","type":"uint64"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"propertyOwner","stateMutability":"view",
   "inputs":[{"name":"imovelId","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"propertyOperator","stateMutability":"view",
   "inputs":[{"name":"imovelId","type":"uint256"},{"name":"operator","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"reservations","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"imovelId","type":"uint256"},{"name":"startDate","type":"uint64"},{"name":"endDate","type":"uint64"},
              {"name":"paid","type":"bool"},{"name":"canceled","type":"bool"},{"name":"burned","type":"bool"}]},
  {"type":"function","name":"mintReservation","stateMutability":"nonpayable",
   "inputs":[{"name":"imovelId","type":"uint256"},{"name":"guest","type":"address"},{"name":"startDate","type":"uint64"},
             {"name":"endDate","type":"uint64"},{"name":"tokenURI","type":"string"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"setReservation","stateMutability":"nonpayable",
   "inputs":[{"name":"tokenId","type":"uint256"},{"name":"paid","type":"bool"}],"outputs":[]},
  {"type":"function","name":"cancelReservation","stateMutability":"nonpayable",
   "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"completeAndBurn","stateMutability":"nonpayable",
   "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"setPropertyOperator","stateMutability":"nonpayable",
   "inputs":[{"name":"imovelId","type":"uint256"},{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
  {"type":"event","name":"ReservationMinted","anonymous":false,
   "inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"imovelId","type":"uint256","indexed":true},
             {"name":"guest","type":"address","indexed":true},{"name":"startDate","type":"uint64","indexed":false},
             {"name":"endDate","type":"uint64","indexed":false}]}
]`

func ParseContractABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(ContractABI))
}
