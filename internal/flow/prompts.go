package flow

import (
	"fmt"
	"strings"

	"orderbot/internal/domain"
	"orderbot/internal/grammar"
	"orderbot/internal/taxid"
)

const (
	cancelCommand = "0"
	dateFormat    = "02/01/2006"
)

const (
	menuMain = "Escolha uma opção:\n1 - Novo pedido\n2 - Consultar pedido\n0 - Encerrar"

	promptCustomer = "Informe o nome, nome fantasia ou CPF/CNPJ do cliente.\n" +
		"9 - Cadastrar novo cliente\n8 - Cadastrar usando modelo\n0 - Encerrar"
	promptConfirmCustomer = "1 - Confirmar\n2 - Buscar outro cliente"

	promptRegName    = "Cadastro de cliente. Informe a razão social ou nome completo:"
	promptRegTaxID   = "Informe o CPF ou CNPJ:"
	promptRegPhone   = "Informe o telefone com DDD (ou - para pular):"
	promptRegAddress = "Informe o endereço completo:"
	promptTemplate   = "Copie o modelo abaixo, preencha e envie de volta:"

	promptProduct     = "Informe o produto (descrição ou código):"
	promptAskImage    = "Deseja enviar a arte deste item?\n1 - Sim\n2 - Não"
	promptAwaitImage  = "Envie a imagem da arte agora (ou 2 para pular)."
	promptMore        = "O que deseja fazer?\n1 - Adicionar outro produto\n2 - Finalizar pedido\n3 - Remover último item"
	promptFinalize    = "1 - Confirmar pedido\n2 - Adicionar mais produtos"
	promptRetryCommit = "1 - Tentar gravar novamente\n2 - Adicionar mais produtos"
	promptInvoice     = "Emitir nota fiscal?\n1 - Sim\n2 - Não"

	menuLookup           = "Consulta de pedidos:\n1 - Por número do pedido\n2 - Por cliente"
	promptLookupCode     = "Informe o número do pedido:"
	promptLookupCustomer = "Informe o nome ou CPF/CNPJ do cliente:"

	msgInvalidOption  = "Opção inválida."
	msgApology        = "Desculpe, tivemos um problema ao processar sua mensagem. Tente novamente em instantes."
	msgCommitFailed   = "Desculpe, não foi possível gravar o pedido. Seus itens foram mantidos."
	msgClosed         = "Atendimento encerrado. Envie qualquer mensagem para começar de novo."
	msgExpired        = "Sua sessão anterior expirou por inatividade.\n\n"
	msgNoCustomer     = "Nenhum cliente encontrado."
	msgNoProduct      = "Nenhum produto encontrado."
	msgNoOrder        = "Pedido não encontrado."
	msgNoOrders       = "Este cliente não possui pedidos."
	msgNoPayments     = "Nenhuma forma de pagamento disponível; o pedido seguirá sem forma definida."
	msgEmptyDraft     = "O pedido não possui itens."
	msgImageTooLarge  = "Imagem muito grande. Envie um arquivo menor ou 2 para pular."
	msgImageExpected  = "Não recebi uma imagem."
	msgNameTooShort   = "Nome muito curto."
	msgPhoneInvalid   = "Telefone inválido."
	msgAddressInvalid = "Endereço muito curto."
)

func greeting(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return fmt.Sprintf("Olá, %s! Sou o assistente de pedidos.", name)
	}
	return "Olá! Sou o assistente de pedidos."
}

func join(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func customerList(list []domain.CustomerSummary) string {
	var sb strings.Builder
	sb.WriteString("Encontrei estes clientes, responda com o número:\n")
	for i, c := range list {
		fmt.Fprintf(&sb, "%d - %s (%s)\n", i+1, c.DisplayName(), taxid.Format(c.TaxID))
	}
	sb.WriteString("Ou digite outro termo para buscar novamente.")
	return sb.String()
}

func confirmCustomer(c domain.CustomerSummary) string {
	return fmt.Sprintf("Cliente: %s\nCPF/CNPJ: %s\n\n%s", c.DisplayName(), taxid.Format(c.TaxID), promptConfirmCustomer)
}

func productList(list []domain.ProductSummary) string {
	var sb strings.Builder
	sb.WriteString("Encontrei estes produtos, responda com o número:\n")
	for i, p := range list {
		fmt.Fprintf(&sb, "%d - %s [%s]\n", i+1, p.Description, p.Code)
	}
	sb.WriteString("Ou digite outro termo para buscar novamente.")
	return sb.String()
}

func sizePrompt(p *domain.ProductSummary, labels []string) string {
	name := ""
	if p != nil {
		name = p.Description + "\n"
	}
	if len(labels) == 0 {
		return name + "Informe a quantidade:"
	}
	return fmt.Sprintf("%sInforme as quantidades por tamanho (ex: %s10 %s5).\nTamanhos: %s",
		name, labels[0], labels[len(labels)-1], strings.Join(labels, ", "))
}

func sizeRejection(re *grammar.RejectError) string {
	switch re.Reason {
	case grammar.RejectUnknownLabel:
		return fmt.Sprintf("O tamanho %s não existe para este produto.", re.Label)
	case grammar.RejectDuplicateLabel:
		return fmt.Sprintf("O tamanho %s foi informado mais de uma vez.", re.Label)
	case grammar.RejectNeedsBreakdown:
		return "Este produto exige quantidades por tamanho."
	case grammar.RejectNeedsQuantity:
		return "Este produto não tem grade; informe apenas a quantidade."
	case grammar.RejectZeroQuantity:
		return "As quantidades devem ser maiores que zero."
	case grammar.RejectTooLarge:
		return fmt.Sprintf("Cada quantidade pode ser no máximo %d.", grammar.MaxQuantity)
	default:
		return "Não entendi as quantidades."
	}
}

func describeLine(l DraftLine) string {
	if !l.IsSized() {
		return fmt.Sprintf("%s - %d un.", l.Description, l.Quantity())
	}
	parts := make([]string, 0, len(l.sizes))
	for _, s := range l.sizes {
		parts = append(parts, fmt.Sprintf("%s%d", s.Label, s.Quantity))
	}
	return fmt.Sprintf("%s - %s (%d un.)", l.Description, strings.Join(parts, " "), l.Quantity())
}

func draftSummary(customer *SelectedCustomer, d draft) string {
	var sb strings.Builder
	sb.WriteString("Resumo do pedido\n")
	if customer != nil {
		fmt.Fprintf(&sb, "Cliente: %s\n", customer.Name)
	}
	total := 0
	for i, l := range d.lines {
		fmt.Fprintf(&sb, "%d. %s", i+1, describeLine(l))
		if l.Image != nil {
			sb.WriteString(" [arte]")
		}
		sb.WriteString("\n")
		total += l.Quantity()
	}
	fmt.Fprintf(&sb, "Total: %d un.", total)
	if d.paymentName != "" {
		fmt.Fprintf(&sb, "\nPagamento: %s", d.paymentName)
	}
	return sb.String()
}

func paymentList(list []domain.PaymentMethod) string {
	var sb strings.Builder
	sb.WriteString("Escolha a forma de pagamento:")
	for i, m := range list {
		fmt.Fprintf(&sb, "\n%d - %s", i+1, m.Name)
	}
	return sb.String()
}

func orderConfirmation(res domain.CommitResult) string {
	return fmt.Sprintf("Pedido %d gravado com sucesso!\nPrevisão de entrega: %s\nObrigado!",
		res.Code, res.DeliveryOn.Format(dateFormat))
}

func orderList(list []domain.OrderBrief) string {
	var sb strings.Builder
	sb.WriteString("Pedidos do cliente, responda com o número:")
	for i, o := range list {
		status := o.StatusName
		if status == "" {
			status = fmt.Sprintf("status %d", o.StatusCode)
		}
		fmt.Fprintf(&sb, "\n%d - Pedido %d de %s (%s)", i+1, o.Code, o.CreatedOn.Format(dateFormat), status)
	}
	return sb.String()
}

func orderSummary(sum *domain.OrderSummary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pedido %d\nCliente: %s\nEmissão: %s\nEntrega: %s\n",
		sum.Code, sum.CustomerName, sum.CreatedOn.Format(dateFormat), sum.DeliveryOn.Format(dateFormat))
	if sum.StatusName != "" {
		fmt.Fprintf(&sb, "Situação: %s\n", sum.StatusName)
	}
	for i, l := range sum.Lines {
		fmt.Fprintf(&sb, "%d. %s - %d un.", i+1, l.Description, l.Quantity)
		if len(l.Sizes) > 0 {
			parts := make([]string, 0, len(l.Sizes))
			for _, s := range l.Sizes {
				parts = append(parts, fmt.Sprintf("%s%d", s.Label, s.Quantity))
			}
			fmt.Fprintf(&sb, " (%s)", strings.Join(parts, " "))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Total: %d un.", sum.TotalQuantity())
	return sb.String()
}

// FormatOrderSummary renders an order the way the lookup sub-flow shows it.
func FormatOrderSummary(sum *domain.OrderSummary) string { return orderSummary(sum) }
