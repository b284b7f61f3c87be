package flow

// State is the position of a conversation in the order dialogue.
type State int

const (
	StateInitial State = iota
	StateAwaitingMenu
	StateSelectingCustomer
	StateSelectingCustomerFromList
	StateConfirmingCustomer
	StateRegisteringName
	StateRegisteringTaxID
	StateRegisteringPhone
	StateRegisteringAddress
	StateAwaitingFilledTemplate
	StateSearchingProduct
	StateSelectingProductFromList
	StateSelectingSize
	StateAskingImage
	StateAwaitingImage
	StateAskingMoreProducts
	StateFinalizingOrder
	StateSelectingPaymentMethod
	StateAskingEmitInvoice
	StateLookupMenu
	StateLookupByCode
	StateLookupByCustomer
	StateLookupSelectCustomer
	StateLookupSelectOrder
	StateClosed
)

var stateNames = map[State]string{
	StateInitial:                   "initial",
	StateAwaitingMenu:              "awaiting_menu",
	StateSelectingCustomer:         "selecting_customer",
	StateSelectingCustomerFromList: "selecting_customer_from_list",
	StateConfirmingCustomer:        "confirming_customer",
	StateRegisteringName:           "registering_name",
	StateRegisteringTaxID:          "registering_tax_id",
	StateRegisteringPhone:          "registering_phone",
	StateRegisteringAddress:        "registering_address",
	StateAwaitingFilledTemplate:    "awaiting_filled_template",
	StateSearchingProduct:          "searching_product",
	StateSelectingProductFromList:  "selecting_product_from_list",
	StateSelectingSize:             "selecting_size",
	StateAskingImage:               "asking_image",
	StateAwaitingImage:             "awaiting_image",
	StateAskingMoreProducts:        "asking_more_products",
	StateFinalizingOrder:           "finalizing_order",
	StateSelectingPaymentMethod:    "selecting_payment_method",
	StateAskingEmitInvoice:         "asking_emit_invoice",
	StateLookupMenu:                "lookup_menu",
	StateLookupByCode:              "lookup_by_code",
	StateLookupByCustomer:          "lookup_by_customer",
	StateLookupSelectCustomer:      "lookup_select_customer",
	StateLookupSelectOrder:         "lookup_select_order",
	StateClosed:                    "closed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// AllStates lists every state in declaration order.
func AllStates() []State {
	out := make([]State, 0, int(StateClosed)+1)
	for s := StateInitial; s <= StateClosed; s++ {
		out = append(out, s)
	}
	return out
}
