package notify

import (
	"fmt"
	"time"
)

// Automated notices go out bilingual (Arabic first, English second) so the
// copy works for the whole customer base without a locale lookup.

func expiryMessage(name string, days int, endDate time.Time) (title, message string) {
	title = "تنبيه انتهاء الاشتراك - Subscription Expiry Notice"
	message = fmt.Sprintf(
		"عزيزي %s، اشتراكك ينتهي خلال %d يوم بتاريخ %s. جدد الآن لتجنب انقطاع الخدمة.\n\n"+
			"Dear %s, your subscription expires in %d day(s) on %s. Renew now to avoid any interruption.",
		name, days, endDate.Format("2006-01-02"),
		name, days, endDate.Format("2006-01-02"))
	return title, message
}

func paymentReminderMessage(name string, price float64, endDate time.Time) (title, message string) {
	title = "تذكير بالدفع - Payment Reminder"
	message = fmt.Sprintf(
		"عزيزي %s، لديك دفعة مستحقة بقيمة %.2f لاشتراكك المنتهي بتاريخ %s. يرجى إتمام الدفع.\n\n"+
			"Dear %s, a payment of %.2f is due for your subscription ending %s. Please complete the payment.",
		name, price, endDate.Format("2006-01-02"),
		name, price, endDate.Format("2006-01-02"))
	return title, message
}

// welcomeCopy is the category-specific content attached to a welcome
// notification and surfaced in the dashboard.
type welcomeCopy struct {
	Title   string
	Message string
	Image   string
	Link    string
}

func welcomeCopyFor(category string) welcomeCopy {
	switch category {
	case "gym":
		return welcomeCopy{
			Title:   "أهلاً بك في النادي - Welcome to the Gym",
			Message: "حسابك جاهز! احجز أول حصة تدريبية الآن.\n\nYour account is ready! Book your first training session now.",
			Image:   "https://cdn.ignite.media/welcome/gym.png",
			Link:    "https://app.ignite.media/gym/getting-started",
		}
	case "restaurant":
		return welcomeCopy{
			Title:   "أهلاً بك - Welcome Aboard",
			Message: "اشتراكك مفعل. تصفح قائمة العروض الأسبوعية.\n\nYour subscription is active. Browse this week's menu offers.",
			Image:   "https://cdn.ignite.media/welcome/restaurant.png",
			Link:    "https://app.ignite.media/restaurant/offers",
		}
	default:
		return welcomeCopy{
			Title:   "مرحباً بك - Welcome",
			Message: "يسعدنا انضمامك إلينا. حسابك أصبح جاهزاً للاستخدام.\n\nWe're glad to have you with us. Your account is ready to use.",
			Image:   "https://cdn.ignite.media/welcome/default.png",
			Link:    "https://app.ignite.media/getting-started",
		}
	}
}
