// Package guard решает, пускать ли запрос в защищённый раздел или перенаправить его.
package guard

import "github.com/magabrotheeeer/devmanager/internal/session"

// Outcome результат проверки
type Outcome string

// Результаты проверки
const (
	Pending  Outcome = "pending"
	Admit    Outcome = "admit"
	Redirect Outcome = "redirect"
)

// Reason почему запрос перенаправлен
type Reason string

// Причины перенаправления
const (
	ReasonNone            Reason = ""
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonNotAdmin        Reason = "not_admin"
	ReasonNoSubscription  Reason = "no_subscription"
)

// Requirements требования раздела. Нулевое значение требует только входа.
type Requirements struct {
	RequireSubscription bool
	RequireAdmin        bool
}

// Routes адреса перенаправлений
type Routes struct {
	SignIn        string
	MemberArea    string
	PlanSelection string
	AdminArea     string
}

// DefaultRoutes адреса по умолчанию
func DefaultRoutes() Routes {
	return Routes{
		SignIn:        "/auth",
		MemberArea:    "/dashboard",
		PlanSelection: "/select-plan",
		AdminArea:     "/admin",
	}
}

// Decision решение guard. Location заполнен только для Redirect.
type Decision struct {
	Outcome  Outcome `json:"outcome"`
	Location string  `json:"location,omitempty"`
	Reason   Reason  `json:"reason,omitempty"`
}

// Evaluate проверяет требования в фиксированном порядке: загрузка, вход,
// администратор, подписка. Администратор не упирается в оплату.
func Evaluate(st session.State, req Requirements, routes Routes) Decision {
	switch {
	case st.Loading:
		return Decision{Outcome: Pending}
	case !st.Authenticated():
		return Decision{Outcome: Redirect, Location: routes.SignIn, Reason: ReasonUnauthenticated}
	case req.RequireAdmin && !st.IsAdmin:
		return Decision{Outcome: Redirect, Location: routes.MemberArea, Reason: ReasonNotAdmin}
	case req.RequireSubscription && !st.HasActiveSubscription && !st.IsAdmin:
		return Decision{Outcome: Redirect, Location: routes.PlanSelection, Reason: ReasonNoSubscription}
	default:
		return Decision{Outcome: Admit}
	}
}

// Landing куда вести пользователя после входа. Пока профиль грузится, возвращает Pending.
func Landing(st session.State, routes Routes) Decision {
	switch {
	case st.Loading:
		return Decision{Outcome: Pending}
	case !st.Authenticated():
		return Decision{Outcome: Redirect, Location: routes.SignIn, Reason: ReasonUnauthenticated}
	case st.IsAdmin:
		return Decision{Outcome: Redirect, Location: routes.AdminArea}
	case st.HasActiveSubscription:
		return Decision{Outcome: Redirect, Location: routes.MemberArea}
	default:
		return Decision{Outcome: Redirect, Location: routes.PlanSelection, Reason: ReasonNoSubscription}
	}
}
