package i18n

var messagesPtBR = map[string]string{
	"UNKNOWN":                   "Algo deu errado. Tente novamente.",
	"UNKNOWN_PARTICIPANT":       "O usuário {{.user_id}} não existe.",
	"PARTICIPANT_INACTIVE":      "O usuário {{.user_id}} está desativado e não pode entrar em novas conversas.",
	"EMPTY_PARTICIPANT_SET":     "Uma conversa precisa de pelo menos dois participantes.",
	"PARTICIPANT_SET_TOO_SMALL": "Uma conversa precisa de pelo menos dois participantes.",
	"DIRECT_PAIR_REQUIRED":      "Uma conversa direta precisa de exatamente dois participantes.",
	"NOT_PARTICIPANT":           "Você não participa desta conversa.",
	"FORBIDDEN":                 "Você não tem acesso a esta conversa.",
	"CONVERSATION_NOT_FOUND":    "Conversa não encontrada.",
	"CONVERSATION_ID_REQUIRED":  "O id da conversa é obrigatório.",
	"CONVERSATION_KIND_INVALID": "Tipo de conversa desconhecido: {{.kind}}.",
	"EMPTY_CONTENT":             "Mensagens não podem ser vazias.",
	"SENDER_REQUIRED":           "O id do remetente é obrigatório.",
	"INVALID_SEQUENCE":          "A sequência {{.seq}} está além do fim da conversa.",
	"INVALID_PAGE_SIZE":         "O tamanho da página deve estar entre 1 e {{.max}}.",
	"INVALID_PAGE_TOKEN":        "O token de página é inválido ou expirou.",
	"INVALID_FILTER":            "A expressão de filtro é inválida.",
	"INVALID_ARGUMENT":          "A requisição está malformada.",
	"UNAUTHENTICATED":           "Uma credencial de stream válida é necessária.",
	"REQUESTER_REQUIRED":        "O id do solicitante é obrigatório.",
	"TIMEOUT":                   "A operação expirou. É seguro tentar novamente.",
	"DELIVERY_FAILED":           "A entrega da mensagem está atrasada.",
	"NOT_FOUND":                 "Não encontrado.",
	"CONFLICT":                  "O registro já existe.",
}
