package catalog

var defaultProducts = []Product{
	{ID: "1", Name: "Fresh Tomatoes", Price: 800, Description: "Locally grown fresh tomatoes - 1kg", Category: "Fresh Produce", Stock: 25, Merchant: "Balogun Market", Available: true},
	{ID: "2", Name: "Red Onions", Price: 600, Description: "Fresh red onions from local farms - 1kg", Category: "Fresh Produce", Stock: 30, Merchant: "Balogun Market", Available: true},
	{ID: "3", Name: "Green Bell Peppers", Price: 400, Description: "Crisp green bell peppers - 500g", Category: "Fresh Produce", Stock: 20, Merchant: "Balogun Market", Available: true},
	{ID: "4", Name: "Rice (Local)", Price: 4500, Description: "Premium local rice - 5kg bag", Category: "Grains & Cereals", Stock: 15, Merchant: "Alaba Grocery", Available: true},
	{ID: "5", Name: "Plantains", Price: 1200, Description: "Fresh ripe plantains - 6 pieces", Category: "Fresh Produce", Stock: 40, Merchant: "Balogun Market", Available: true},
	{ID: "6", Name: "Fresh Fish (Tilapia)", Price: 2800, Description: "Fresh tilapia fish - 1kg", Category: "Protein", Stock: 18, Merchant: "Makoko Fish Market", Available: true},
	{ID: "7", Name: "Yam Tubers", Price: 1800, Description: "Fresh yam tubers - 3kg", Category: "Fresh Produce", Stock: 22, Merchant: "Balogun Market", Available: true},
	{ID: "8", Name: "Palm Oil", Price: 1500, Description: "Pure red palm oil - 1 liter", Category: "Cooking Essentials", Stock: 35, Merchant: "Alaba Grocery", Available: true},
	{ID: "9", Name: "Fresh Spinach", Price: 300, Description: "Organic spinach leaves - 500g", Category: "Fresh Produce", Stock: 50, Merchant: "Balogun Market", Available: true},
	{ID: "10", Name: "Beans (Brown)", Price: 2200, Description: "Premium brown beans - 2kg", Category: "Grains & Cereals", Stock: 28, Merchant: "Alaba Grocery", Available: true},
	{ID: "11", Name: "Fresh Ginger", Price: 500, Description: "Fresh ginger root - 250g", Category: "Spices & Herbs", Stock: 45, Merchant: "Balogun Market", Available: true},
	{ID: "12", Name: "Garlic Bulbs", Price: 400, Description: "Fresh garlic bulbs - 200g", Category: "Spices & Herbs", Stock: 60, Merchant: "Balogun Market", Available: true},
	{ID: "13", Name: "Groundnut Oil", Price: 1800, Description: "Pure groundnut cooking oil - 1 liter", Category: "Cooking Essentials", Stock: 24, Merchant: "Alaba Grocery", Available: true},
	{ID: "14", Name: "Sweet Potatoes", Price: 1000, Description: "Fresh sweet potatoes - 2kg", Category: "Fresh Produce", Stock: 32, Merchant: "Balogun Market", Available: true},
	{ID: "15", Name: "Dried Fish (Stock Fish)", Price: 3500, Description: "Premium dried stock fish - 500g", Category: "Protein", Stock: 12, Merchant: "Makoko Fish Market", Available: true},
}
