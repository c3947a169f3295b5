package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/01moynul/zyra-golang/internal/handlers"
	"github.com/01moynul/zyra-golang/internal/metrics"
	"github.com/01moynul/zyra-golang/internal/middleware"
	"github.com/01moynul/zyra-golang/internal/models"
)

// Options are the router settings that do not belong to the handlers.
type Options struct {
	CORSOrigin string
	Limiter    *middleware.RateLimiter // nil disables rate limiting
}

func SetupRouter(h *handlers.Handlers, opts Options) *gin.Engine {
	router := gin.New()

	// --- Global middleware ---
	// CORS runs before everything else so preflights are answered directly.
	router.Use(middleware.CORS(opts.CORSOrigin))
	router.Use(middleware.Recovery(h.Log))
	router.Use(middleware.RequestLogger(h.Log))
	router.Use(metrics.Middleware())

	// --- Operational endpoints ---
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.Static("/uploads", uploadDir(h))

	v1 := router.Group("/v1")
	{
		// --- Public Routes (limited per client IP) ---
		public := v1.Group("")
		limit(public, opts.Limiter)
		{
			public.POST("/auth/register", h.Register)
			public.POST("/auth/login", h.Login)

			public.GET("/categories", h.GetAllCategories)
			public.GET("/products", h.SearchProducts)
			public.GET("/products/:id", h.GetProduct)
		}

		// --- Protected Routes (Login Required, limited per user) ---
		auth := v1.Group("/")
		auth.Use(middleware.AuthMiddleware(h.DB, h.Tokens))
		limit(auth, opts.Limiter)
		{
			auth.GET("/me", h.GetMe)
			auth.GET("/realtime", h.RealtimeConnect)

			// --- Notifications ---
			auth.GET("/notifications", h.GetMyNotifications)
			auth.PATCH("/notifications/:id/read", h.MarkNotificationAsRead)

			// --- Shop directory ---
			auth.GET("/shops", h.ListShops)
			auth.GET("/shops/nearby", h.NearbyShops)
			auth.GET("/shops/:id", h.GetShop)
			auth.POST("/shops/:id/follow", h.FollowShop)
			auth.DELETE("/shops/:id/follow", h.UnfollowShop)

			auth.GET("/products/:id/delivery", h.GetProductDelivery)

			// --- Addresses ---
			auth.GET("/addresses", h.GetMyAddresses)
			auth.POST("/addresses", h.CreateAddress)
			auth.PUT("/addresses/:id", h.UpdateAddress)
			auth.DELETE("/addresses/:id", h.DeleteAddress)
			auth.PATCH("/addresses/:id/default", h.SetDefaultAddress)

			// --- Cart & Checkout ---
			auth.GET("/cart", h.GetCart)
			auth.GET("/cart/count", h.GetCartCount)
			auth.POST("/cart/items", h.AddToCart)
			auth.PUT("/cart/items/:id", h.UpdateCartItem)
			auth.DELETE("/cart/items/:id", h.DeleteCartItem)
			auth.DELETE("/cart", h.ClearCart)
			auth.GET("/checkout/summary", h.GetCheckoutSummary)
			auth.POST("/checkout", h.Checkout)

			// --- Customer Orders ---
			auth.GET("/orders", h.GetMyOrders)
			auth.GET("/orders/:id", h.GetOrder)
			auth.POST("/orders/:id/cancel", h.CancelOrder)
			auth.GET("/orders/:id/verify", h.GetOrderVerification)
			auth.POST("/orders/:id/verify", h.VerifyOrder)

			// --- Uploads (Shop Owner / Admin) ---
			auth.POST("/uploads", middleware.RequireRole(models.RoleShopOwner, models.RoleAdmin), h.UploadFile)

			// --- Shop Owner Routes ---
			shop := auth.Group("/shop")
			shop.Use(middleware.RequireRole(models.RoleShopOwner))
			{
				shop.POST("", h.CreateShop)
				shop.GET("", h.GetMyShop)
				shop.PUT("", h.UpdateMyShop)

				shop.GET("/products", h.GetMyProducts)
				shop.POST("/products", h.CreateProduct)
				shop.PUT("/products/:id", h.UpdateProduct)
				shop.DELETE("/products/:id", h.DeleteProduct)

				shop.GET("/orders", h.GetShopOrders)
				shop.GET("/orders/:id", h.GetShopOrder)
				shop.PATCH("/orders/:id/status", h.UpdateOrderStatus)
				shop.GET("/orders/:id/qr", h.GetOrderQR)

				shop.GET("/revenue", h.GetShopRevenue)
			}

			// --- Admin Routes ---
			admin := auth.Group("/admin")
			admin.Use(middleware.RequireRole(models.RoleAdmin))
			{
				admin.GET("/stats", h.GetAdminStats)

				admin.POST("/categories", h.CreateCategory)
				admin.DELETE("/categories/:id", h.DeleteCategory)

				admin.GET("/shops", h.GetAdminShops)
				admin.PATCH("/shops/:id/approve", h.ApproveShop)
				admin.PATCH("/shops/:id/deactivate", h.DeactivateShop)

				admin.GET("/orders", h.GetAdminOrders)
				admin.PUT("/users/:id/role", h.UpdateUserRole)

				admin.POST("/ai/chat", h.ChatAI)
			}
		}
	}

	return router
}

// limit attaches the rate limiter to g. It keys by user id when an earlier
// middleware in g has authenticated the caller.
func limit(g *gin.RouterGroup, rl *middleware.RateLimiter) {
	if rl != nil {
		g.Use(rl.Handler())
	}
}

func uploadDir(h *handlers.Handlers) string {
	if h.UploadDir == "" {
		return "./uploads"
	}
	return h.UploadDir
}
