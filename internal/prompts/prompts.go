// Package prompts holds the Berenice persona, welcome templates, and
// canned responses used across the agent and the pipeline. All
// patient-facing text is Brazilian Portuguese.
package prompts

import (
	"fmt"
	"strings"
)

// System is the agent persona and operating instructions. The single
// %s placeholder is the clinic name; use [SystemPrompt] to fill it.
const System = `Você é Berenice, a assistente virtual da %[1]s, especializada em odontologia de excelência.

## Sua Personalidade:
- Profissional, mas amigável e acolhedora
- Empática com as necessidades e ansiedades dos pacientes
- Consultiva, sempre fazendo perguntas para entender melhor
- Proativa em oferecer soluções e agendar consultas

## Suas Responsabilidades:
1. **Recepcionar** novos contatos com cordialidade
2. **Qualificar** o lead, entendendo:
   - Qual tratamento interessa
   - Nível de urgência (dor, evento próximo)
   - Orçamento disponível
   - Já é paciente ou indicação
3. **Informar** sobre tratamentos, preços e condições
4. **Agendar** consultas de avaliação
5. **Tratar objeções** com empatia e informações relevantes
6. **Fazer follow-up** de leads que não agendaram

## Regras Importantes:
- SEMPRE use ferramentas para buscar histórico do paciente
- NÃO invente preços - use as ferramentas para consultar
- Seja transparente sobre prazos e valores
- Se não souber algo, consulte as ferramentas ou peça para falar com um dentista
- Mantenha o tom profissional mas humanizado
- Use emojis moderadamente para parecer mais acessível 😊
- Adapte o tom ao paciente (mais formal ou informal conforme o contexto)

## Tratamento de Objeções:
- Preço alto: Fale sobre parcelamento, benefícios a longo prazo
- Falta de tempo: Ofereça horários flexíveis, consulta rápida de avaliação
- Medo: Mostre empatia, fale sobre conforto e tecnologia moderna
- Vai pensar: Pergunte o que está impedindo a decisão, ofereça mais informações

Lembre-se: Seu objetivo é ajudar o paciente a cuidar da saúde bucal, não apenas vender.
Seja genuinamente útil!`

// SystemPrompt returns the persona prompt for the given clinic.
func SystemPrompt(clinicName string) string {
	return fmt.Sprintf(System, clinicName)
}

// Apology is sent when reply generation fails. The patient always
// receives some reply; this is the floor.
const Apology = "Desculpe, ocorreu um erro ao processar sua mensagem. Por favor, tente novamente em instantes."

// DeliveryFailureNotice is the plain retry message attempted once when
// the real reply fails to send.
const DeliveryFailureNotice = "Desculpe, tivemos um problema ao enviar a resposta. Pode repetir sua mensagem?"

// Welcome templates keyed by period of day.
var welcomeMessages = map[string]string{
	"morning":   "Bom dia! 🌅 Sou a Berenice, da %s. Como posso ajudar você hoje?",
	"afternoon": "Boa tarde! ☀️ Sou a Berenice, da %s. Como posso ajudar você hoje?",
	"evening":   "Boa noite! 🌙 Sou a Berenice, da %s. Como posso ajudar você hoje?",
	"night":     "Olá! Sou a Berenice, da %s. Mesmo fora do horário comercial, estou aqui para ajudar! Como posso te atender?",
}

// PeriodOfDay maps an hour (0-23) to the welcome template period:
// 5-11 morning, 12-17 afternoon, 18-21 evening, otherwise night.
func PeriodOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	case hour >= 18 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}

// WelcomeMessage returns the time-of-day-appropriate greeting for a
// first contact.
func WelcomeMessage(hour int, clinicName string) string {
	return fmt.Sprintf(welcomeMessages[PeriodOfDay(hour)], clinicName)
}

// Quick responses for common scenarios. Placeholders use {name}-style
// keys filled by [QuickResponse].
var quickResponses = map[string]string{
	"first_contact":     "Olá! 😊 Bem-vindo(a) à {clinic_name}! Meu nome é Berenice e sou a assistente virtual da clínica. Como posso te ajudar hoje?",
	"returning_patient": "Olá novamente, {name}! 😊 Que prazer ter você de volta! Como posso te ajudar hoje?",
	"ask_name":          "Para melhor atendê-lo(a), como posso te chamar?",
	"ask_treatment":     "Perfeito! Qual tipo de tratamento você está buscando? Por exemplo:\n\n• Limpeza/Prevenção\n• Clareamento\n• Ortodontia (aparelho)\n• Implantes\n• Estética (lente, faceta)\n• Emergência (dor)",
	"ask_urgency":       "Entendi! Essa é uma situação urgente ou você gostaria de agendar para os próximos dias?",
	"schedule_prompt":   "Excelente! Vou verificar os horários disponíveis. Qual período você prefere?\n\n📅 Manhã (8h-12h)\n📅 Tarde (13h-17h)\n📅 Noite (17h-20h)",
	"thank_you":         "Muito obrigada! 😊",
	"appointment_confirmed": "✅ Consulta agendada com sucesso!\n\n📅 Data: {date}\n⏰ Horário: {time}\n📍 Local: {address}\n\nVou enviar um lembrete 1 dia antes. Até lá!",
	"follow_up":         "Oi, {name}! Notei que você demonstrou interesse em {treatment} mas ainda não agendou. Gostaria de tirar alguma dúvida? 😊",
}

// Follow-up templates keyed by elapsed interval.
var followUpTemplates = map[string]string{
	"1_day":   "Oi, {name}! Só passando para lembrar da sua consulta amanhã às {time}. Nos vemos lá! 😊",
	"3_days":  "Olá, {name}! Vi que você se interessou por {treatment}. Tem alguma dúvida que eu possa esclarecer? 💭",
	"7_days":  "Oi, {name}! Como está? Ainda tem interesse em cuidar do seu sorriso? Posso te ajudar com algo? 😊",
	"30_days": "Olá, {name}! Faz um tempo que conversamos! Gostaria de retomar o assunto sobre {treatment}? Estou aqui para ajudar! 🦷",
}

// QuickResponse renders a quick-response template with the given
// {placeholder} values. Returns "" for an unknown key.
func QuickResponse(key string, args map[string]string) string {
	return render(quickResponses[key], args)
}

// FollowUp renders a follow-up template for the given interval key
// ("1_day", "3_days", "7_days", "30_days"). Returns "" for an unknown
// key.
func FollowUp(interval string, args map[string]string) string {
	return render(followUpTemplates[interval], args)
}

func render(template string, args map[string]string) string {
	if template == "" {
		return ""
	}
	out := template
	for k, v := range args {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
