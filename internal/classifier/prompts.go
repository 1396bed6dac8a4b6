package classifier

// DensityPrompt asks for the crowd packing class.
const DensityPrompt = "Look at the crowd in this image and classify how densely people are packed.\n" +
	"Low: people are spread out with clear open space between them.\n" +
	"Medium: a noticeable crowd, people close together but able to move freely.\n" +
	"High: people tightly packed, little or no space between individuals, movement restricted.\n\n" +
	"Respond with only one word: Low, Medium or High. Do not explain your answer."

// MotionPrompt asks for the crowd behavior class.
const MotionPrompt = "Look at how the people in this image are moving and behaving.\n" +
	"Calm: walking normally, standing, orderly flow in consistent directions.\n" +
	"Chaotic: running, pushing, shoving, falling, people moving against each other, " +
	"visible panic or distress, or unsafe bottlenecks.\n\n" +
	"Respond with only one word: Calm or Chaotic. Do not explain your answer."
