package shared

// Sales, delivery, invoicing and approval permissions declared for RBAC.
const (
	// Quotation permissions
	PermQuotationView    = "sales.quotation.view"
	PermQuotationCreate  = "sales.quotation.create"
	PermQuotationEdit    = "sales.quotation.edit"
	PermQuotationSend    = "sales.quotation.send"
	PermQuotationDecide  = "sales.quotation.decide"
	PermQuotationConvert = "sales.quotation.convert"

	// Sales Order permissions
	PermSalesOrderView           = "sales.order.view"
	PermSalesOrderCreate         = "sales.order.create"
	PermSalesOrderApprove        = "sales.order.approve"
	PermSalesOrderConfirm        = "sales.order.confirm"
	PermSalesOrderCancel         = "sales.order.cancel"
	PermSalesOrderCreditOverride = "sales.order.credit_override"

	// Delivery Note permissions
	PermDeliveryNoteView     = "delivery.note.view"
	PermDeliveryNoteCreate   = "delivery.note.create"
	PermDeliveryNotePost     = "delivery.note.post_inventory"
	PermDeliveryNoteDispatch = "delivery.note.dispatch"
	PermDeliveryNoteConfirm  = "delivery.note.confirm"
	PermDeliveryNoteCancel   = "delivery.note.cancel"

	// Invoice permissions
	PermInvoiceView    = "sales.invoice.view"
	PermInvoiceCreate  = "sales.invoice.create"
	PermInvoicePost    = "sales.invoice.post"
	PermInvoicePayment = "sales.invoice.payment"
	PermInvoiceVoid    = "sales.invoice.void"

	// Approval permissions
	PermApprovalView   = "approval.request.view"
	PermApprovalDecide = "approval.request.decide"

	// Item master permissions
	PermItemEdit   = "inventory.item.edit"
	PermItemDelete = "inventory.item.delete"
)

// SalesScopes lists all permissions related to the sales module.
func SalesScopes() []string {
	return []string{
		PermQuotationView,
		PermQuotationCreate,
		PermQuotationEdit,
		PermQuotationSend,
		PermQuotationDecide,
		PermQuotationConvert,
		PermSalesOrderView,
		PermSalesOrderCreate,
		PermSalesOrderApprove,
		PermSalesOrderConfirm,
		PermSalesOrderCancel,
		PermSalesOrderCreditOverride,
		PermInvoiceView,
		PermInvoiceCreate,
		PermInvoicePost,
		PermInvoicePayment,
		PermInvoiceVoid,
	}
}

// DeliveryScopes lists all permissions related to the delivery module.
func DeliveryScopes() []string {
	return []string{
		PermDeliveryNoteView,
		PermDeliveryNoteCreate,
		PermDeliveryNotePost,
		PermDeliveryNoteDispatch,
		PermDeliveryNoteConfirm,
		PermDeliveryNoteCancel,
	}
}

// AllScopes returns every permission the back office checks.
func AllScopes() []string {
	scopes := append(SalesScopes(), DeliveryScopes()...)
	return append(scopes, PermApprovalView, PermApprovalDecide, PermItemEdit, PermItemDelete)
}
