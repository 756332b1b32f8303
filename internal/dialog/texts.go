package dialog

// User-facing replies.
const (
	textGreeting      = "Hello, %s!"
	textOptionChosen  = "You chose option %d."
	textAskName       = "What's your name?"
	textAskAge        = "How old are you?"
	textAgeInvalid    = "Age must be a whole number between 0 and 150, try again."
	textNameInvalid   = "Please send your name as text."
	textRegistered    = "Cool, %s! %d is the best age!"
	textAlreadyExists = "You're already registered."
	textNoUsers       = "No users yet."
	textFailure       = "Something went wrong, please try again later."
	textAskCity       = "Send me a city name."
	textWeatherReport = "Weather in %s: %s°C, humidity %d%%"
	textCityNotFound  = "I couldn't find that city, try another name."
	textWeatherDown   = "The weather service is unavailable right now, please try again later."
	textWeatherOff    = "Weather lookups are not configured."
	textPhotoSize     = "Your image size: %d x %d pixels."
	textNiceTry       = "Nice try!"
	textUnsupported   = "Unsupported action"
	textHelp          = `Available commands:
/start - begin registration
/users - list registered users
/weather - current weather for a city
/help - show this message

Anything else is sent back to you.`
)
