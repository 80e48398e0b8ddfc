package server

import "fmt"

const (
	promptUsername    = "Please enter username:\n"
	promptPassword    = "Please enter password:\n"
	promptRegister    = "Username not found. Would you like to register this username? (Y/N)\n"
	promptNewPassword = "Please enter new password:\n"

	msgAuthSuccess           = "Authentication successful\n"
	msgInvalidPassword       = "Invalid Password\n"
	msgAccountCreated        = "User account created successfully"
	msgRegistrationCancelled = "Registration cancelled\n"
	msgInvalidResponse       = "Invalid response, expected Y or N\n"
	msgInvalidUsername       = "Invalid username\n"
	msgUsernameTaken         = "Username already exists\n"

	msgJoinUsage          = "Usage: /join <channel>\n"
	msgCannotLeaveDefault = "You cannot leave the general channel\n"
	msgWhisperUsage       = "Usage: /whisper <user> <message>\n"

	// whisperFrame prefixes direct messages pushed to a recipient.
	whisperFrame = "PM:"
)

func joinedChannel(name string) string {
	return fmt.Sprintf("Joined channel: %s\n", name)
}

func leftChannel(name string) string {
	return fmt.Sprintf("Left channel: %s\n", name)
}

func invalidChannel(name string) string {
	return fmt.Sprintf("Invalid channel name: %s\n", name)
}

func unknownCommand(token string) string {
	return "Unknown command: " + token
}

func userNotOnline(username string) string {
	return fmt.Sprintf("User %s is not online\n", username)
}

func whisperSent(username string) string {
	return fmt.Sprintf("Whisper sent to %s\n", username)
}
